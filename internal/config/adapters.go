package config

import (
	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/landmark"
	"github.com/mikeyg42/bodytrack/internal/recording"
	"github.com/mikeyg42/bodytrack/internal/session"
	"github.com/mikeyg42/bodytrack/internal/storage"
)

// MinIOStoreConfig maps the MinIO section to the storage package.
func (c *Config) MinIOStoreConfig() storage.MinIOConfig {
	m := c.Storage.MinIO
	return storage.MinIOConfig{
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		UseSSL:          m.UseSSL,
		Bucket:          m.Bucket,
		Region:          m.Region,
		MaxUploads:      m.MaxUploads,
		ConnectTimeout:  m.ConnectTimeout,
		MaxRetries:      m.MaxRetries,
	}
}

// PostgresStoreConfig maps the Postgres section to the storage package.
func (c *Config) PostgresStoreConfig() storage.PostgresConfig {
	p := c.Storage.Postgres
	return storage.PostgresConfig{
		Host:            p.Host,
		Port:            p.Port,
		Database:        p.Database,
		Username:        p.Username,
		Password:        p.Password,
		SSLMode:         p.SSLMode,
		MaxConnections:  p.MaxConnections,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}

func (c *Config) DeviceConfig() camera.DeviceConfig {
	return camera.DeviceConfig{
		DeviceID:  c.Camera.DeviceID,
		Width:     c.Camera.Width,
		Height:    c.Camera.Height,
		FrameRate: c.Camera.FrameRate,
		Buffer:    c.Camera.Buffer,
	}
}

func (c *Config) ProcessConfig() landmark.ProcessConfig {
	return landmark.ProcessConfig{
		Python:        c.Detector.Python,
		Script:        c.Detector.Script,
		MaxHands:      c.Detector.MaxHands,
		MinConfidence: c.Detector.MinConfidence,
		IdleTimeout:   c.Detector.IdleTimeout,
	}
}

func (c *Config) RecorderConfig() recording.Config {
	return recording.Config{
		Dir:         c.Recording.Dir,
		MaxDuration: c.Recording.MaxDuration,
		Width:       c.Recording.Width,
		Quality:     c.Recording.Quality,
		FrameRate:   c.Recording.FrameRate,
	}
}

// SessionConfig maps the session section. Recording is disabled by a zero
// threshold.
func (c *Config) SessionConfig() session.Config {
	s := c.Session
	threshold := 0
	if c.Recording.Enabled {
		threshold = c.Recording.Threshold
	}
	return session.Config{
		UserID:          s.UserID,
		MovementType:    s.MovementType,
		CaptureInterval: s.CaptureInterval,
		MinCaptureGap:   s.MinCaptureGap,
		FlushInterval:   s.FlushInterval,
		FlushTimeout:    s.FlushTimeout,
		DetectTimeout:   c.Detector.Timeout,
		StopTimeout:     s.StopTimeout,
		RingSize:        s.RingSize,
		RecordThreshold: threshold,
	}
}

func (c *Config) ComposerConfig() export.ComposerConfig {
	return export.ComposerConfig{
		BaseURL:     c.Composer.BaseURL,
		HealthPath:  c.Composer.HealthPath,
		ComposePath: c.Composer.ComposePath,
		Token:       c.Composer.Token,
		Timeout:     c.Composer.Timeout,
		MaxRetries:  c.Composer.MaxRetries,
	}
}

func (c *Config) FlusherConfig() export.FlusherConfig {
	return export.FlusherConfig{
		URL:        c.Flush.URL,
		Token:      c.Flush.Token,
		Timeout:    c.Flush.Timeout,
		MaxRetries: c.Flush.MaxRetries,
	}
}

func (c *Config) ExportConfig() export.Config {
	return export.Config{
		ObjectPrefix: c.Storage.Prefix,
		URLExpiry:    c.Storage.URLExpiry,
	}
}
