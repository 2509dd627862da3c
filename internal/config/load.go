package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Environment variables that override secrets from the file.
const (
	EnvMinIOSecret   = "BODYTRACK_MINIO_SECRET"
	EnvMinIOAccess   = "BODYTRACK_MINIO_ACCESS_KEY"
	EnvPGPassword    = "BODYTRACK_PG_PASSWORD"
	EnvComposerToken = "BODYTRACK_COMPOSER_TOKEN"
	EnvFlushToken    = "BODYTRACK_FLUSH_TOKEN"
)

// Load returns the defaults overlaid with the TOML file at path and then the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := LoadFile(path, cfg); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadFile decodes the TOML file at path over cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat config: %w", err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return nil
}

// ApplyEnv copies secrets from the environment into cfg.
func ApplyEnv(cfg *Config) {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set(EnvMinIOAccess, &cfg.Storage.MinIO.AccessKeyID)
	set(EnvMinIOSecret, &cfg.Storage.MinIO.SecretAccessKey)
	set(EnvPGPassword, &cfg.Storage.Postgres.Password)
	set(EnvComposerToken, &cfg.Composer.Token)
	set(EnvFlushToken, &cfg.Flush.Token)
}

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), "bodytrack", "config.toml")
}

// DefaultDataPath places name under the bodytrack data directory.
func DefaultDataPath(name string) string {
	return filepath.Join(XDGDataHome(), "bodytrack", name)
}
