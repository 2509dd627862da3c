package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := NewDefaultConfig()
	if cfg.API.ListenAddr != def.API.ListenAddr {
		t.Fatalf("listen addr = %q, want %q", cfg.API.ListenAddr, def.API.ListenAddr)
	}
	if cfg.Session.RingSize != 4 || cfg.Session.CaptureInterval != 3*time.Second {
		t.Fatalf("session defaults not applied: %+v", cfg.Session)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
[api]
listen_addr = "0.0.0.0:8080"

[session]
user_id = "u42"
movement_type = "squat"
capture_interval = "4s"
ring_size = 5

[analysis]
weight_pose = 0.6

[storage.minio]
enabled = true
bucket = "clips"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("listen addr = %q", cfg.API.ListenAddr)
	}
	if cfg.Session.UserID != "u42" || cfg.Session.MovementType != "squat" {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Session.CaptureInterval != 4*time.Second || cfg.Session.RingSize != 5 {
		t.Fatalf("session timing = %+v", cfg.Session)
	}
	// untouched keys keep their defaults
	if cfg.Session.FlushInterval != 5*time.Second {
		t.Fatalf("flush interval = %v", cfg.Session.FlushInterval)
	}
	if cfg.Analysis.WeightPose != 0.6 || cfg.Analysis.WeightFace != 0.3 {
		t.Fatalf("weights = %v/%v", cfg.Analysis.WeightPose, cfg.Analysis.WeightFace)
	}
	if !cfg.Storage.MinIO.Enabled || cfg.Storage.MinIO.Bucket != "clips" || cfg.Storage.MinIO.Endpoint != "localhost:9000" {
		t.Fatalf("minio = %+v", cfg.Storage.MinIO)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[session]\nuser = \"typo\"\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown config keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "[api\nlisten_addr = ")
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvMinIOSecret, "s3cret")
	t.Setenv(EnvPGPassword, "pg")
	t.Setenv(EnvComposerToken, "")

	path := writeConfig(t, "[composer]\ntoken = \"from-file\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.MinIO.SecretAccessKey != "s3cret" {
		t.Fatalf("minio secret = %q", cfg.Storage.MinIO.SecretAccessKey)
	}
	if cfg.Storage.Postgres.Password != "pg" {
		t.Fatalf("pg password = %q", cfg.Storage.Postgres.Password)
	}
	if cfg.Composer.Token != "from-file" {
		t.Fatalf("empty env var should not override, got %q", cfg.Composer.Token)
	}
}

func TestSessionConfigDisablesRecording(t *testing.T) {
	cfg := NewDefaultConfig()
	if got := cfg.SessionConfig().RecordThreshold; got != cfg.Recording.Threshold {
		t.Fatalf("threshold = %d, want %d", got, cfg.Recording.Threshold)
	}
	cfg.Recording.Enabled = false
	if got := cfg.SessionConfig().RecordThreshold; got != 0 {
		t.Fatalf("threshold = %d, want 0 when recording is off", got)
	}
}

func TestDataPathsFollowXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	if got, want := DefaultConfigPath(), filepath.Join(dir, "bodytrack", "config.toml"); got != want {
		t.Fatalf("DefaultConfigPath = %q, want %q", got, want)
	}
	if got, want := DefaultDataPath("x.db"), filepath.Join(dir, "bodytrack", "x.db"); got != want {
		t.Fatalf("DefaultDataPath = %q, want %q", got, want)
	}
}
