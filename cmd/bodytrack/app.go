package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/api"
	"github.com/mikeyg42/bodytrack/internal/broadcast"
	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/capture"
	"github.com/mikeyg42/bodytrack/internal/config"
	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/landmark"
	"github.com/mikeyg42/bodytrack/internal/recording"
	"github.com/mikeyg42/bodytrack/internal/session"
	"github.com/mikeyg42/bodytrack/internal/storage"
)

// Application holds all components
type Application struct {
	config     *config.Config
	metadata   storage.MetadataStore
	objects    storage.ObjectStore
	minio      *storage.MinIOStore
	exporter   *export.Exporter
	controller *session.Controller
	server     *api.Server
	logger     *zap.Logger

	// source is the most recently opened frame source.
	source atomic.Value // sourceHolder
}

// statsSource is a frame source that counts what it delivers.
type statsSource interface {
	Stats() camera.Stats
}

type sourceHolder struct{ src camera.Source }

// NewApplication builds the storage, export and session stack. Remote
// services that cannot be reached are logged and skipped; only the local
// metadata database is required.
func NewApplication(ctx context.Context, cfg *config.Config, openSource func(context.Context) (camera.Source, error)) (*Application, error) {
	app := &Application{
		config: cfg,
		logger: zap.L().Named("app"),
	}

	local, err := storage.NewSQLiteStore(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local metadata: %w", err)
	}
	var primary storage.MetadataStore
	if cfg.Storage.Postgres.Enabled {
		pg, err := storage.NewPostgresStore(ctx, cfg.PostgresStoreConfig())
		if err != nil {
			app.logger.Warn("Postgres unavailable, using local metadata only", zap.Error(err))
		} else {
			primary = pg
		}
	}
	app.metadata = storage.NewFallbackStore(primary, local)

	if cfg.Storage.MinIO.Enabled {
		store, err := storage.NewMinIOStore(cfg.MinIOStoreConfig())
		if err != nil {
			app.logger.Warn("MinIO unavailable, artifacts stay local", zap.Error(err))
		} else {
			app.objects = store
			app.minio = store
		}
	}

	var composer *export.Composer
	if cfg.Composer.BaseURL != "" {
		composer = export.NewComposer(cfg.ComposerConfig())
	}
	var flusher *export.ImageFlusher
	if cfg.Flush.URL != "" {
		flusher = export.NewImageFlusher(cfg.FlusherConfig())
	}
	artifacts := export.NewLocalArtifacts(cfg.Storage.LocalDir, cfg.Storage.MinFreeMB<<20, cfg.Storage.KeepSessions)
	app.exporter = export.New(cfg.ExportConfig(), app.objects, app.metadata, composer, flusher, artifacts)

	var recorder session.MovementRecorder
	if cfg.Recording.Enabled {
		recorder = recording.NewRecorder(cfg.RecorderConfig())
	}

	app.controller, err = session.NewController(cfg.SessionConfig(), session.Deps{
		OpenSource:   app.trackSource(openSource),
		OpenDetector: app.openDetector,
		Analyzer:     analysis.NewAnalyzer(cfg.Analysis),
		Broadcaster:  broadcast.New(),
		Exporter:     app.exporter,
		Snapshotter:  capture.NewEncoder(cfg.Session.SnapshotWidth, cfg.Session.SnapshotQuality),
		Recorder:     recorder,
		Metadata:     app.metadata,
	})
	if err != nil {
		_ = app.metadata.Close()
		return nil, err
	}

	app.logger.Info("Application initialized",
		zap.Bool("postgres", primary != nil),
		zap.Bool("minio", app.objects != nil),
		zap.Bool("composer", composer.Enabled()),
		zap.Bool("flush", flusher.Enabled()),
		zap.Bool("recording", recorder != nil))
	return app, nil
}

func (app *Application) openDetector(ctx context.Context) (session.Detector, error) {
	src, err := landmark.OpenProcesses(app.config.ProcessConfig())
	if err != nil {
		return nil, err
	}
	return src, nil
}

// trackSource remembers each source openSource hands out so its counters
// can be reported.
func (app *Application) trackSource(openSource func(context.Context) (camera.Source, error)) func(context.Context) (camera.Source, error) {
	return func(ctx context.Context) (camera.Source, error) {
		src, err := openSource(ctx)
		if err == nil {
			app.source.Store(sourceHolder{src: src})
		}
		return src, err
	}
}

// sourceStats reports the current source's counters, or nil when it keeps
// none.
func (app *Application) sourceStats() interface{} {
	h, _ := app.source.Load().(sourceHolder)
	if s, ok := h.src.(statsSource); ok {
		return s.Stats()
	}
	return nil
}

// Serve attaches the HTTP API and registers the storage health checks.
func (app *Application) Serve() *api.Server {
	app.server = api.NewServer(app.config.API, app.controller)
	app.server.AddHealthCheck("metadata", app.metadata.HealthCheck)
	if app.objects != nil {
		app.server.AddHealthCheck("objects", app.objects.HealthCheck)
	}
	if app.minio != nil {
		app.server.AddStats("minio", func() interface{} { return app.minio.GetMetrics() })
	}
	app.server.AddStats("camera", app.sourceStats)
	return app.server
}

// Cleanup stops any running session, then the API, then closes storage.
func (app *Application) Cleanup(ctx context.Context) error {
	var errs error
	if err := app.controller.Close(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if app.server != nil {
		errs = multierr.Append(errs, app.server.Shutdown(ctx))
	}
	errs = multierr.Append(errs, app.metadata.Close())
	return errs
}
