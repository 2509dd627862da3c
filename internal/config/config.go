// Package config holds the application configuration: defaults, an optional
// TOML overlay and environment overrides for secrets.
package config

import (
	"time"

	"github.com/mikeyg42/bodytrack/internal/analysis"
)

// Config holds all application configuration
type Config struct {
	API       APIConfig           `toml:"api"`
	Log       LogConfig           `toml:"log"`
	Camera    CameraConfig        `toml:"camera"`
	Detector  DetectorConfig      `toml:"detector"`
	Session   SessionConfig       `toml:"session"`
	Analysis  analysis.Thresholds `toml:"analysis"`
	Composer  ComposerConfig      `toml:"composer"`
	Flush     FlushConfig         `toml:"flush"`
	Recording RecordingConfig     `toml:"recording"`
	Storage   StorageConfig       `toml:"storage"`
}

type APIConfig struct {
	ListenAddr      string        `toml:"listen_addr"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	RateLimit       float64       `toml:"rate_limit"`
	RateBurst       int           `toml:"rate_burst"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type CameraConfig struct {
	DeviceID  string  `toml:"device_id"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	FrameRate float64 `toml:"frame_rate"`
	Buffer    int     `toml:"buffer"`
}

// DetectorConfig points at the MediaPipe helper script.
type DetectorConfig struct {
	Python        string        `toml:"python"`
	Script        string        `toml:"script"`
	MaxHands      int           `toml:"max_hands"`
	MinConfidence float64       `toml:"min_confidence"`
	IdleTimeout   time.Duration `toml:"idle_timeout"`
	Timeout       time.Duration `toml:"timeout"`
}

type SessionConfig struct {
	UserID          string        `toml:"user_id"`
	MovementType    string        `toml:"movement_type"`
	CaptureInterval time.Duration `toml:"capture_interval"`
	MinCaptureGap   time.Duration `toml:"min_capture_gap"`
	FlushInterval   time.Duration `toml:"flush_interval"`
	FlushTimeout    time.Duration `toml:"flush_timeout"`
	StopTimeout     time.Duration `toml:"stop_timeout"`
	RingSize        int           `toml:"ring_size"`
	SnapshotWidth   int           `toml:"snapshot_width"`
	SnapshotQuality int           `toml:"snapshot_quality"`
}

type ComposerConfig struct {
	BaseURL     string        `toml:"base_url"`
	HealthPath  string        `toml:"health_path"`
	ComposePath string        `toml:"compose_path"`
	Token       string        `toml:"token"`
	Timeout     time.Duration `toml:"timeout"`
	MaxRetries  int           `toml:"max_retries"`
}

type FlushConfig struct {
	URL        string        `toml:"url"`
	Token      string        `toml:"token"`
	Timeout    time.Duration `toml:"timeout"`
	MaxRetries int           `toml:"max_retries"`
}

// RecordingConfig controls movement clips.
type RecordingConfig struct {
	Enabled     bool          `toml:"enabled"`
	Dir         string        `toml:"dir"`
	MaxDuration time.Duration `toml:"max_duration"`
	Threshold   int           `toml:"threshold"`
	Width       int           `toml:"width"`
	Quality     int           `toml:"quality"`
	FrameRate   int           `toml:"frame_rate"`
}

type StorageConfig struct {
	MinIO        MinIOConfig    `toml:"minio"`
	Postgres     PostgresConfig `toml:"postgres"`
	SQLitePath   string         `toml:"sqlite_path"`
	LocalDir     string         `toml:"local_dir"`
	MinFreeMB    uint64         `toml:"min_free_mb"`
	KeepSessions int            `toml:"keep_sessions"` // sessions whose artifacts stay in memory
	Prefix       string         `toml:"prefix"`
	URLExpiry    time.Duration  `toml:"url_expiry"`
}

type MinIOConfig struct {
	Enabled         bool          `toml:"enabled"`
	Endpoint        string        `toml:"endpoint"`
	AccessKeyID     string        `toml:"access_key_id"`
	SecretAccessKey string        `toml:"secret_access_key"`
	UseSSL          bool          `toml:"use_ssl"`
	Bucket          string        `toml:"bucket"`
	Region          string        `toml:"region"`
	MaxUploads      int           `toml:"max_uploads"`
	MaxRetries      int           `toml:"max_retries"`
	ConnectTimeout  time.Duration `toml:"connect_timeout"`
}

type PostgresConfig struct {
	Enabled         bool          `toml:"enabled"`
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	Database        string        `toml:"database"`
	Username        string        `toml:"username"`
	Password        string        `toml:"password"`
	SSLMode         string        `toml:"ssl_mode"`
	MaxConnections  int           `toml:"max_connections"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			ListenAddr:      "localhost:7000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			RateLimit:       20,
			RateBurst:       40,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Camera: CameraConfig{
			Width:     640,
			Height:    480,
			FrameRate: 30,
			Buffer:    2,
		},
		Detector: DetectorConfig{
			Python:        "python3",
			Script:        "scripts/mediapipe_helper.py",
			MaxHands:      2,
			MinConfidence: 0.5,
			IdleTimeout:   5 * time.Minute,
			Timeout:       2 * time.Second,
		},
		Session: SessionConfig{
			UserID:          "anonymous",
			MovementType:    "free",
			CaptureInterval: 3 * time.Second,
			MinCaptureGap:   time.Second,
			FlushInterval:   5 * time.Second,
			FlushTimeout:    30 * time.Second,
			StopTimeout:     10 * time.Second,
			RingSize:        4,
			SnapshotWidth:   320,
			SnapshotQuality: 70,
		},
		Analysis: analysis.DefaultThresholds(),
		Composer: ComposerConfig{
			HealthPath:  "/health",
			ComposePath: "/compose-video",
			Timeout:     60 * time.Second,
			MaxRetries:  2,
		},
		Flush: FlushConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 1,
		},
		Recording: RecordingConfig{
			Enabled:     true,
			Dir:         DefaultDataPath("clips"),
			MaxDuration: 30 * time.Second,
			Threshold:   60,
			Width:       640,
			Quality:     80,
			FrameRate:   15,
		},
		Storage: StorageConfig{
			MinIO: MinIOConfig{
				Endpoint:       "localhost:9000",
				Bucket:         "bodytrack",
				Region:         "us-east-1",
				MaxUploads:     4,
				MaxRetries:     3,
				ConnectTimeout: 10 * time.Second,
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "bodytrack",
				Username:        "bodytrack",
				SSLMode:         "disable",
				MaxConnections:  10,
				ConnMaxLifetime: 5 * time.Minute,
			},
			SQLitePath:   DefaultDataPath("bodytrack.db"),
			LocalDir:     DefaultDataPath("artifacts"),
			MinFreeMB:    512,
			KeepSessions: 8,
			Prefix:       "sessions",
			URLExpiry:    24 * time.Hour,
		},
	}
}
