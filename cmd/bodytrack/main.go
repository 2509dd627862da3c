// Package main provides the CLI entrypoint for bodytrack.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/config"
	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/history"
	"github.com/mikeyg42/bodytrack/internal/landmark"
	"github.com/mikeyg42/bodytrack/internal/logging"
	"github.com/mikeyg42/bodytrack/internal/validate"
)

var (
	configPath string
	logLevel   string

	serveListen    string
	serveAutostart bool

	sessionUser     string
	sessionMovement string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bodytrack",
		Short:        "Real-time body tracking and movement analysis",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to TOML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&sessionUser, "user", "", "user id recorded with sessions")
	rootCmd.PersistentFlags().StringVar(&sessionMovement, "movement", "", "movement type recorded with sessions")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAnalyzeImageCmd())
	rootCmd.AddCommand(newAnalyzeVideoCmd())
	rootCmd.AddCommand(newCamerasCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// loadConfig reads, overrides and validates the config, then installs the
// global logger. The returned func flushes the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("user") {
		cfg.Session.UserID = sessionUser
	}
	if cmd.Flags().Changed("movement") {
		cfg.Session.MovementType = sessionMovement
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cfg.API.ListenAddr = serveListen
	}
	if err := validate.ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}
	_, restore, err := logging.Setup(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, restore, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cleanup(app *Application, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.Cleanup(ctx); err != nil {
		zap.L().Warn("Shutdown completed with errors", zap.Error(err))
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tracking API on a live camera",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveListen, "listen", "", "API listen address (host:port)")
	cmd.Flags().BoolVar(&serveAutostart, "autostart", false, "start a session immediately")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, restore, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer restore()

	ctx, stop := signalContext()
	defer stop()

	openCamera := func(context.Context) (camera.Source, error) {
		return camera.NewDeviceSource(cfg.DeviceConfig()), nil
	}
	app, err := NewApplication(ctx, cfg, openCamera)
	if err != nil {
		return err
	}
	defer cleanup(app, cfg.API.ShutdownTimeout)

	server := app.Serve()
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if serveAutostart {
		if _, err := app.controller.Start(ctx); err != nil {
			zap.L().Warn("Autostart failed", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		zap.L().Info("Received shutdown signal")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("API server: %w", err)
	}
}

func newAnalyzeVideoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze-video <path>",
		Short: "Track a recorded video and export the session",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyzeVideoCmd,
	}
}

func runAnalyzeVideoCmd(cmd *cobra.Command, args []string) error {
	cfg, restore, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer restore()

	ctx, stop := signalContext()
	defer stop()

	path := args[0]
	openFile := func(context.Context) (camera.Source, error) {
		return camera.NewFileSource(path), nil
	}
	app, err := NewApplication(ctx, cfg, openFile)
	if err != nil {
		return err
	}
	defer cleanup(app, cfg.Session.StopTimeout)

	if _, err := app.controller.Start(ctx); err != nil {
		return err
	}
	select {
	case <-app.controller.SourceDone():
	case <-ctx.Done():
		zap.L().Info("Interrupted, exporting partial session")
	}

	res, err := app.controller.Stop(context.Background())
	if err != nil {
		zap.L().Warn("Export completed with errors", zap.Error(err))
	}
	if res == nil {
		return errors.New("no session was exported")
	}
	return printJSON(res)
}

func newAnalyzeImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze-image <path>",
		Short: "Analyze a single still image and print the analysis and its CSV row",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyzeImageCmd,
	}
}

func runAnalyzeImageCmd(cmd *cobra.Command, args []string) error {
	cfg, restore, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer restore()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Detector.Timeout*5)
	defer cancel()

	src := camera.NewImageSource(args[0])
	if err := src.Open(ctx); err != nil {
		return err
	}
	defer src.Close()
	frame, ok := <-src.Frames()
	if !ok {
		return fmt.Errorf("no frame decoded from %s", args[0])
	}

	detector, err := landmark.OpenProcesses(cfg.ProcessConfig())
	if err != nil {
		return fmt.Errorf("failed to start detectors: %w", err)
	}
	defer detector.Close()

	result := analysis.NewAnalyzer(cfg.Analysis).Analyze(detector.Detect(ctx, frame.Image))
	return writeImageReport(cmd.OutOrStdout(), result)
}

// writeImageReport prints a still image's analysis as JSON, then the same
// analysis as a combined CSV table with one row at timestamp 0.
func writeImageReport(w io.Writer, result analysis.BodyAnalysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	rec := history.NewRecorder()
	rec.Record(0, result)
	data, err := export.BuildCombinedCSV(rec.Join())
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func newCamerasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cameras",
		Short: "List video input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices := camera.ListDevices()
			if len(devices) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no video input devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.DeviceID, d.Label)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
