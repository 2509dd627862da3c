package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"time"

	"github.com/mikeyg42/bodytrack/internal/capture"
)

// ErrFlusherDisabled is returned when no snapshot endpoint is configured.
var ErrFlusherDisabled = errors.New("export: image flush endpoint not configured")

// FlusherConfig points at the snapshot upload endpoint.
type FlusherConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// ImageFlusher uploads captured snapshots as movement evidence.
type ImageFlusher struct {
	config FlusherConfig
	remote remote
}

// NewImageFlusher creates a flusher.
func NewImageFlusher(config FlusherConfig) *ImageFlusher {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &ImageFlusher{
		config: config,
		remote: newRemote(config.Timeout, config.Token, config.MaxRetries),
	}
}

// Enabled reports whether an endpoint is configured.
func (f *ImageFlusher) Enabled() bool {
	return f != nil && f.config.URL != ""
}

// Flush posts multipart {user, label, movementType, timestamp, images[]}.
// A 401 or 403 is returned as a *StatusError without retrying.
func (f *ImageFlusher) Flush(ctx context.Context, images []capture.Image, meta SessionMeta, at time.Time) error {
	if !f.Enabled() {
		return ErrFlusherDisabled
	}
	_, err := f.remote.post(ctx, f.config.URL, func() ([]byte, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fields := [][2]string{
			{"user", meta.UserID},
			{"label", meta.Label(at)},
			{"movementType", meta.MovementType},
			{"timestamp", strconv.FormatInt(at.UnixMilli(), 10)},
		}
		for _, kv := range fields {
			if err := w.WriteField(kv[0], kv[1]); err != nil {
				return nil, "", err
			}
		}
		for i, img := range images {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="capture-%d-%d.jpg"`, img.Timestamp.UnixMilli(), i))
			h.Set("Content-Type", "image/jpeg")
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(img.Data); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), w.FormDataContentType(), nil
	})
	return err
}
