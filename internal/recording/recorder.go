// Package recording writes movement clips as Matroska/WebM files with one
// MJPEG video track.
package recording

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/capture"
)

// ErrNotRecording is returned by WriteFrame outside a clip.
var ErrNotRecording = errors.New("recording: not active")

// Config controls clip output.
type Config struct {
	Dir         string
	MaxDuration time.Duration
	Width       int
	Quality     int
	FrameRate   int
}

// Clip is a finished recording on disk.
type Clip struct {
	ID      string
	Path    string
	Started time.Time
	Ended   time.Time
	Frames  int
	Size    int64
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	return c.Ended.Sub(c.Started)
}

// Recorder writes at most one clip at a time. A clip ends on Stop or when
// MaxDuration has elapsed since Start.
type Recorder struct {
	config  Config
	logger  *zap.Logger
	encoder *capture.Encoder

	mu        sync.Mutex
	active    bool
	id        string
	path      string
	file      *os.File
	writer    webm.BlockWriteCloser
	started   time.Time
	lastFrame time.Time
	frames    int
	finished  []Clip
}

// NewRecorder creates a recorder writing into config.Dir.
func NewRecorder(config Config) *Recorder {
	if config.MaxDuration == 0 {
		config.MaxDuration = 30 * time.Second
	}
	if config.FrameRate == 0 {
		config.FrameRate = 15
	}
	if config.Width == 0 {
		config.Width = 640
	}
	if config.Dir == "" {
		config.Dir = "recordings"
	}
	return &Recorder{
		config:  config,
		logger:  zap.L().Named("recorder"),
		encoder: capture.NewEncoder(config.Width, config.Quality),
	}
}

// Active reports whether a clip is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start opens a new clip named id. Starting while active is a no-op.
func (r *Recorder) Start(id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}
	if err := os.MkdirAll(r.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	r.id = id
	r.path = filepath.Join(r.config.Dir, fmt.Sprintf("movement_%s_%s.webm", ts.Format("2006-01-02_15-04-05"), id))
	r.started = ts
	r.lastFrame = ts
	r.frames = 0
	r.active = true

	r.logger.Info("Started movement recording", zap.String("file", r.path))
	return nil
}

// WriteFrame appends img to the open clip. It returns the finished clip when
// the frame pushed the clip past MaxDuration.
func (r *Recorder) WriteFrame(img image.Image, ts time.Time) (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil, ErrNotRecording
	}
	if ts.Sub(r.started) >= r.config.MaxDuration {
		return r.finalize()
	}

	snap, err := r.encoder.Encode(img, ts)
	if err != nil {
		return nil, err
	}

	if r.writer == nil {
		if err := r.openWriter(snap.Width, snap.Height); err != nil {
			r.active = false
			return nil, err
		}
	}

	if _, err := r.writer.Write(true, ts.Sub(r.started).Milliseconds(), snap.Data); err != nil {
		return nil, fmt.Errorf("write block: %w", err)
	}
	r.frames++
	r.lastFrame = ts
	return nil, nil
}

func (r *Recorder) openWriter(width, height int) error {
	file, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	ws, err := webm.NewSimpleBlockWriter(file,
		[]webm.TrackEntry{
			{
				Name:            "Video",
				TrackNumber:     1,
				TrackUID:        uint64(r.started.UnixNano()),
				CodecID:         "V_MJPEG",
				TrackType:       1,
				DefaultDuration: uint64(time.Second / time.Duration(r.config.FrameRate)),
				Video: &webm.Video{
					PixelWidth:  uint64(width),
					PixelHeight: uint64(height),
				},
			},
		},
	)
	if err != nil {
		file.Close()
		os.Remove(r.path)
		return fmt.Errorf("failed to create WebM writer: %w", err)
	}

	r.file = file
	r.writer = ws[0]
	return nil
}

// Stop finalizes the open clip. It returns nil when nothing was recording or
// the clip had no frames.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil, nil
	}
	return r.finalize()
}

func (r *Recorder) finalize() (*Clip, error) {
	r.active = false

	if r.writer == nil {
		r.logger.Debug("Movement recording ended without frames")
		return nil, nil
	}

	// Closing the block writer also closes the file.
	err := r.writer.Close()
	r.writer = nil
	r.file = nil
	if err != nil {
		return nil, fmt.Errorf("failed to close WebM writer: %w", err)
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to verify recording file: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(r.path)
		return nil, fmt.Errorf("recording failed: output file is empty")
	}

	clip := Clip{
		ID:      r.id,
		Path:    r.path,
		Started: r.started,
		Ended:   r.lastFrame,
		Frames:  r.frames,
		Size:    info.Size(),
	}
	r.finished = append(r.finished, clip)

	r.logger.Info("Saved movement recording",
		zap.String("file", clip.Path),
		zap.Int("frames", clip.Frames),
		zap.Int64("bytes", clip.Size))
	return &clip, nil
}

// TakeClips returns and forgets every finished clip.
func (r *Recorder) TakeClips() []Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.finished
	r.finished = nil
	return out
}
