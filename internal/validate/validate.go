// Package validate checks a loaded configuration before anything is built
// from it.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/capture"
	"github.com/mikeyg42/bodytrack/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateAPIConfig(v, &cfg.API)
	validateLogConfig(v, &cfg.Log)
	validateCameraConfig(v, &cfg.Camera)
	validateSessionConfig(v, &cfg.Session)
	validateThresholds(v, &cfg.Analysis)
	validateRemote(v, "composer.base_url", cfg.Composer.BaseURL)
	validateRemote(v, "flush.url", cfg.Flush.URL)
	validateRecordingConfig(v, &cfg.Recording)
	validateStorageConfig(v, &cfg.Storage)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateAPIConfig(v *Validator, cfg *config.APIConfig) {
	if cfg.ListenAddr == "" {
		v.AddError("api.listen_addr cannot be empty")
	} else {
		host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			v.AddError("api.listen_addr must be host:port: %v", err)
		} else {
			if host != "" && host != "localhost" {
				if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
					v.AddError("invalid hostname in api.listen_addr: %s", host)
				}
			}
			port, err := strconv.Atoi(portStr)
			if err != nil || port < 0 || port > 65535 {
				v.AddError("invalid port in api.listen_addr: %s", portStr)
			}
		}
	}
	if cfg.RateLimit <= 0 || cfg.RateBurst <= 0 {
		v.AddError("api.rate_limit and api.rate_burst must be positive")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin != "*" && !isValidURL(origin) {
			v.AddError("invalid allowed origin: %s", origin)
		}
	}
}

func validateLogConfig(v *Validator, cfg *config.LogConfig) {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.AddError("invalid log.level: %s (debug, info, warn or error)", cfg.Level)
	}
}

func validateCameraConfig(v *Validator, cfg *config.CameraConfig) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		v.AddError("invalid camera dimensions: width=%d height=%d", cfg.Width, cfg.Height)
	}
	if cfg.Width > 4096 || cfg.Height > 4096 {
		v.AddError("camera dimensions too large: %dx%d (max 4096x4096)", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 120 {
		v.AddError("invalid camera.frame_rate: %v (1-120)", cfg.FrameRate)
	}
}

func validateSessionConfig(v *Validator, cfg *config.SessionConfig) {
	if strings.TrimSpace(cfg.UserID) == "" {
		v.AddError("session.user_id cannot be empty")
	}
	if strings.ContainsAny(cfg.UserID+cfg.MovementType, "/\\") {
		v.AddError("session.user_id and session.movement_type cannot contain slashes")
	}
	if cfg.MinCaptureGap < time.Second {
		v.AddError("session.min_capture_gap must be >= 1s")
	}
	if cfg.CaptureInterval < cfg.MinCaptureGap {
		v.AddError("session.capture_interval must be >= session.min_capture_gap")
	}
	if cfg.FlushInterval <= 0 {
		v.AddError("session.flush_interval must be positive")
	}
	if cfg.RingSize < capture.MinRingSize || cfg.RingSize > capture.MaxRingSize {
		v.AddError("session.ring_size must be %d..%d", capture.MinRingSize, capture.MaxRingSize)
	}
	if cfg.SnapshotQuality < 1 || cfg.SnapshotQuality > 100 {
		v.AddError("session.snapshot_quality must be 1..100")
	}
}

func validateThresholds(v *Validator, t *analysis.Thresholds) {
	if len(t.PoseKeyIndices) == 0 {
		v.AddError("analysis.pose_key_indices cannot be empty")
	}
	for _, idx := range t.PoseKeyIndices {
		if idx < 0 || idx > 32 {
			v.AddError("analysis.pose_key_indices: %d out of range 0..32", idx)
		}
	}
	if t.PostureStraightAngle < 0 || t.PostureStraightAngle >= t.PostureLeanAngle {
		v.AddError("analysis.posture_straight_angle must be >= 0 and below posture_lean_angle")
	}
	if t.OpenHandMinTips < 1 || t.OpenHandMinTips > 5 {
		v.AddError("analysis.open_hand_min_tips must be 1..5")
	}
	if t.WeightPose < 0 || t.WeightFace < 0 || t.WeightHands < 0 {
		v.AddError("analysis weights cannot be negative")
	}
}

func validateRemote(v *Validator, name, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || !isValidURL(raw) || u.Host == "" {
		v.AddError("invalid %s: %s", name, raw)
	}
}

func validateRecordingConfig(v *Validator, cfg *config.RecordingConfig) {
	if !cfg.Enabled {
		return
	}
	if !isValidDirectoryPath(cfg.Dir) {
		v.AddError("invalid recording.dir: %s", cfg.Dir)
	}
	if cfg.MaxDuration <= 0 {
		v.AddError("recording.max_duration must be positive")
	}
	if cfg.Threshold < 1 || cfg.Threshold > 100 {
		v.AddError("recording.threshold must be 1..100")
	}
}

func validateStorageConfig(v *Validator, cfg *config.StorageConfig) {
	if cfg.MinIO.Enabled {
		if cfg.MinIO.Endpoint == "" {
			v.AddError("storage.minio.endpoint is required when MinIO is enabled")
		}
		if cfg.MinIO.Bucket == "" {
			v.AddError("storage.minio.bucket is required when MinIO is enabled")
		}
		if cfg.MinIO.AccessKeyID == "" || cfg.MinIO.SecretAccessKey == "" {
			v.AddError("storage.minio credentials are required when MinIO is enabled")
		}
	}
	if cfg.Postgres.Enabled {
		if cfg.Postgres.Host == "" {
			v.AddError("storage.postgres.host is required when Postgres is enabled")
		}
		if cfg.Postgres.Database == "" {
			v.AddError("storage.postgres.database is required when Postgres is enabled")
		}
	}
	if cfg.SQLitePath == "" || !isValidFilePath(cfg.SQLitePath) {
		v.AddError("invalid storage.sqlite_path: %s", cfg.SQLitePath)
	}
	if cfg.LocalDir != "" && !isValidDirectoryPath(cfg.LocalDir) {
		v.AddError("invalid storage.local_dir: %s", cfg.LocalDir)
	}
	if cfg.KeepSessions < 0 {
		v.AddError("storage.keep_sessions must be non-negative, got %d", cfg.KeepSessions)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidFilePath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}
