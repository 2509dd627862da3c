package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/mikeyg42/bodytrack/internal/config"
)

func TestValidateConfigDefaults(t *testing.T) {
	if err := ValidateConfig(config.NewDefaultConfig()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "listen addr without port",
			mutate:  func(c *config.Config) { c.API.ListenAddr = "localhost" },
			wantErr: "host:port",
		},
		{
			name:    "bad port",
			mutate:  func(c *config.Config) { c.API.ListenAddr = "localhost:99999" },
			wantErr: "invalid port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "capture gap below a second",
			mutate:  func(c *config.Config) { c.Session.MinCaptureGap = 500 * time.Millisecond },
			wantErr: "min_capture_gap",
		},
		{
			name:    "capture interval below gap",
			mutate:  func(c *config.Config) { c.Session.CaptureInterval = 1500 * time.Millisecond; c.Session.MinCaptureGap = 2 * time.Second },
			wantErr: "capture_interval",
		},
		{
			name:    "ring too large",
			mutate:  func(c *config.Config) { c.Session.RingSize = 9 },
			wantErr: "ring_size",
		},
		{
			name:    "empty user",
			mutate:  func(c *config.Config) { c.Session.UserID = " " },
			wantErr: "user_id",
		},
		{
			name:    "slash in movement",
			mutate:  func(c *config.Config) { c.Session.MovementType = "a/b" },
			wantErr: "slashes",
		},
		{
			name:    "pose index out of range",
			mutate:  func(c *config.Config) { c.Analysis.PoseKeyIndices = []int{0, 40} },
			wantErr: "out of range",
		},
		{
			name:    "negative weight",
			mutate:  func(c *config.Config) { c.Analysis.WeightFace = -1 },
			wantErr: "negative",
		},
		{
			name:    "composer url without scheme",
			mutate:  func(c *config.Config) { c.Composer.BaseURL = "composer.local:5000" },
			wantErr: "composer.base_url",
		},
		{
			name:    "minio without credentials",
			mutate:  func(c *config.Config) { c.Storage.MinIO.Enabled = true },
			wantErr: "credentials",
		},
		{
			name:    "postgres without host",
			mutate:  func(c *config.Config) { c.Storage.Postgres.Enabled = true; c.Storage.Postgres.Host = "" },
			wantErr: "postgres.host",
		},
		{
			name:    "negative keep sessions",
			mutate:  func(c *config.Config) { c.Storage.KeepSessions = -1 },
			wantErr: "keep_sessions",
		},
		{
			name:    "recording threshold",
			mutate:  func(c *config.Config) { c.Recording.Threshold = 0 },
			wantErr: "recording.threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecordingDisabledSkipsChecks(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Recording.Enabled = false
	cfg.Recording.Threshold = 0
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsValidHostname(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"cam-1.lan", true},
		{"-bad.com", false},
		{"", false},
		{"under_score.com", false},
	}
	for _, tt := range tests {
		if got := isValidHostname(tt.host); got != tt.want {
			t.Errorf("isValidHostname(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
