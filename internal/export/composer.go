package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrComposerUnavailable is returned when the composer is not configured or
// fails its liveness probe.
var ErrComposerUnavailable = errors.New("export: video composer unavailable")

// ComposerConfig points at the remote compose-video service.
type ComposerConfig struct {
	BaseURL       string
	HealthPath    string
	ComposePath   string
	Token         string
	Timeout       time.Duration
	HealthTimeout time.Duration
	MaxRetries    int
}

// Composer turns a session CSV into a rendered video on a remote service.
type Composer struct {
	config ComposerConfig
	remote remote
	logger *zap.Logger
}

// NewComposer creates a composer. An empty BaseURL yields a composer whose
// probe always fails.
func NewComposer(config ComposerConfig) *Composer {
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}
	if config.ComposePath == "" {
		config.ComposePath = "/compose-video"
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = 3 * time.Second
	}
	return &Composer{
		config: config,
		remote: newRemote(config.Timeout, config.Token, config.MaxRetries),
		logger: zap.L().Named("composer"),
	}
}

// Enabled reports whether a service is configured.
func (c *Composer) Enabled() bool {
	return c != nil && c.config.BaseURL != ""
}

func (c *Composer) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

// Health probes the service's liveness endpoint.
func (c *Composer) Health(ctx context.Context) error {
	if !c.Enabled() {
		return ErrComposerUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()
	if err := c.remote.get(ctx, c.url(c.config.HealthPath)); err != nil {
		return fmt.Errorf("%w: %v", ErrComposerUnavailable, err)
	}
	return nil
}

type composeReply struct {
	VideoURL string `json:"videoUrl"`
}

// Compose uploads csv as multipart {file, userId, videoName} and returns the
// videoUrl from the reply.
func (c *Composer) Compose(ctx context.Context, csv []byte, meta SessionMeta) (string, error) {
	if !c.Enabled() {
		return "", ErrComposerUnavailable
	}
	videoName := meta.VideoName()

	reply, err := c.remote.post(ctx, c.url(c.config.ComposePath), func() ([]byte, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", videoName+".csv")
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(csv); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("userId", meta.UserID); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("videoName", videoName); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), w.FormDataContentType(), nil
	})
	if err != nil {
		return "", fmt.Errorf("compose video: %w", err)
	}

	var out composeReply
	if err := json.Unmarshal(reply, &out); err != nil {
		return "", fmt.Errorf("decode compose reply: %w", err)
	}
	if out.VideoURL == "" {
		return "", errors.New("compose video: reply has no videoUrl")
	}

	c.logger.Info("Video composed",
		zap.String("session", meta.SessionID),
		zap.String("video_url", out.VideoURL))
	return out.VideoURL, nil
}
