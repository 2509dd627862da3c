// Package session runs one tracking session at a time: it acquires the frame
// source and detectors, drives the frame loop and the periodic capture and
// flush tasks, and on stop exports the session and releases everything.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/broadcast"
	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/capture"
	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/history"
	"github.com/mikeyg42/bodytrack/internal/landmark"
	"github.com/mikeyg42/bodytrack/internal/recording"
	"github.com/mikeyg42/bodytrack/internal/storage"
)

var (
	// ErrAcquire wraps camera or media acquisition failures from Start.
	ErrAcquire = errors.New("session: media acquisition failed")
	// ErrNotTracking is returned by operations that need a running session.
	ErrNotTracking = errors.New("session: not tracking")
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Tracking
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Tracking:
		return "tracking"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Detector produces raw landmarks for a frame. *landmark.Source satisfies it.
type Detector interface {
	Detect(ctx context.Context, img image.Image) landmark.RawFrame
	Close() error
}

// Snapshotter encodes capture snapshots. *capture.Encoder satisfies it.
type Snapshotter interface {
	Encode(img image.Image, ts time.Time) (capture.Image, error)
}

// MovementRecorder records clips of detected movement. *recording.Recorder
// satisfies it.
type MovementRecorder interface {
	Start(id string, ts time.Time) error
	WriteFrame(img image.Image, ts time.Time) (*recording.Clip, error)
	Stop() (*recording.Clip, error)
	Active() bool
	TakeClips() []recording.Clip
}

// Config holds session timing and identity.
type Config struct {
	UserID       string
	MovementType string

	CaptureInterval time.Duration
	MinCaptureGap   time.Duration
	FlushInterval   time.Duration
	FlushTimeout    time.Duration
	DetectTimeout   time.Duration
	StopTimeout     time.Duration
	RingSize        int

	// RecordThreshold is the pose confidence (0-100) that starts a movement
	// recording. 0 disables recording.
	RecordThreshold int
}

func (c *Config) setDefaults() {
	if c.CaptureInterval <= 0 {
		c.CaptureInterval = 3 * time.Second
	}
	if c.MinCaptureGap <= 0 {
		c.MinCaptureGap = time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 2 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.RingSize == 0 {
		c.RingSize = capture.DefaultRingSize
	}
}

// Deps are the collaborators a controller drives. OpenSource is required;
// OpenDetector, Snapshotter, Recorder and Metadata may be nil.
type Deps struct {
	OpenSource   func(ctx context.Context) (camera.Source, error)
	OpenDetector func(ctx context.Context) (Detector, error)
	Analyzer     *analysis.Analyzer
	Broadcaster  *broadcast.Broadcaster
	Exporter     *export.Exporter
	Snapshotter  Snapshotter
	Recorder     MovementRecorder
	Metadata     storage.MetadataStore
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State        State          `json:"state"`
	SessionID    string         `json:"sessionId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	MovementType string         `json:"movementType,omitempty"`
	Generation   uint64         `json:"generation"`
	StartedAt    time.Time      `json:"startedAt,omitempty"`
	ElapsedMs    int64          `json:"elapsedMs"`
	Paused       bool           `json:"paused"`
	Frames       int64          `json:"frames"`
	PoseSamples  int            `json:"poseSamples"`
	FaceSamples  int            `json:"faceSamples"`
	HandSamples  int            `json:"handSamples"`
	Rejected     int            `json:"rejected"`
	Captured     int            `json:"captured"`
	Recording    bool           `json:"recording"`
	SourceDone   bool           `json:"sourceDone"`
	LastExport   *export.Result `json:"lastExport,omitempty"`
}

// run is the state of one tracking session.
type run struct {
	id       string
	gen      uint64
	meta     export.SessionMeta
	source   camera.Source
	detector Detector
	history  *history.Recorder
	ring     *capture.Ring
	baseline *Baseline
	gate     *gate
	tasks    *taskGroup
	origin   time.Time

	frames     atomic.Int64
	lastTs     int64
	latest     atomic.Pointer[camera.Frame]
	lastPose   atomic.Int32
	flushing   atomic.Bool
	sourceDone chan struct{}

	captureMu   sync.Mutex
	lastCapture time.Time
}

// Controller is the session state machine. Start and Stop are serialized;
// Snapshot may be called at any time.
type Controller struct {
	config Config
	deps   Deps
	logger *zap.Logger

	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation atomic.Uint64
	cur        *run
	lastResult *export.Result
}

// NewController creates an idle controller.
func NewController(config Config, deps Deps) (*Controller, error) {
	if deps.OpenSource == nil {
		return nil, errors.New("session: OpenSource is required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.NewAnalyzer(analysis.DefaultThresholds())
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = broadcast.New()
	}
	if deps.Exporter == nil {
		deps.Exporter = export.New(export.Config{}, nil, deps.Metadata, nil, nil, nil)
	}
	config.setDefaults()
	return &Controller{
		config: config,
		deps:   deps,
		logger: zap.L().Named("session"),
		state:  Idle,
	}, nil
}

// Broadcaster returns the live analysis cell.
func (c *Controller) Broadcaster() *broadcast.Broadcaster {
	return c.deps.Broadcaster
}

// Exporter returns the session exporter.
func (c *Controller) Exporter() *export.Exporter {
	return c.deps.Exporter
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("Session state", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) current() *run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// isCurrent reports whether results tagged with gen may still be applied.
func (c *Controller) isCurrent(gen uint64) bool {
	return c.generation.Load() == gen
}

// Start acquires the frame source and detectors and begins tracking.
// Starting while already tracking returns the running session unchanged.
// Detector failures are tolerated; source failures return ErrAcquire and
// leave the controller idle.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == Tracking {
		return c.Snapshot(), nil
	}
	c.setState(Starting)

	// The source and detectors live until Stop; ctx only bounds acquisition.
	runCtx := context.WithoutCancel(ctx)

	src, err := c.deps.OpenSource(runCtx)
	if err == nil {
		if err = src.Open(runCtx); err != nil {
			src.Close()
		}
	}
	if err != nil {
		c.setState(Idle)
		c.logger.Error("Failed to acquire frame source", zap.Error(err))
		return c.Snapshot(), fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	var det Detector
	if c.deps.OpenDetector != nil {
		det, err = c.deps.OpenDetector(runCtx)
		if err != nil {
			c.logger.Warn("Detectors unavailable, tracking without landmarks", zap.Error(err))
			det = nil
		}
	}

	if err := ctx.Err(); err != nil {
		src.Close()
		if det != nil {
			det.Close()
		}
		c.setState(Idle)
		return c.Snapshot(), fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	r := &run{
		id:         uuid.NewString(),
		gen:        c.generation.Add(1),
		source:     src,
		detector:   det,
		history:    history.NewRecorder(),
		ring:       capture.NewRing(c.config.RingSize),
		baseline:   newBaseline(ctx, c.deps.Metadata, c.logger),
		gate:       newGate(),
		origin:     time.Now(),
		lastTs:     -1,
		sourceDone: make(chan struct{}),
	}
	r.meta = export.SessionMeta{
		SessionID:    r.id,
		UserID:       c.config.UserID,
		MovementType: c.config.MovementType,
		StartedAt:    r.baseline.Start(),
	}

	if c.deps.Metadata != nil {
		err := c.deps.Metadata.SaveSession(ctx, &storage.Session{
			ID:           r.id,
			UserID:       r.meta.UserID,
			MovementType: r.meta.MovementType,
			StartedAt:    r.meta.StartedAt.UnixMilli(),
			Status:       storage.SessionActive,
		})
		if err != nil {
			c.logger.Warn("Failed to record session start", zap.Error(err))
		}
	}

	start := analysis.Empty()
	start.IsAnalyzing = true
	c.deps.Broadcaster.Publish(start)

	r.tasks = newTaskGroup(context.Background(), c.logger.With(zap.String("session", r.id)))
	r.tasks.Go("frames", func(ctx context.Context) { c.frameLoop(ctx, r) })
	r.tasks.Go("capture", func(ctx context.Context) { c.captureTask(ctx, r) })
	r.tasks.Go("flush", func(ctx context.Context) { c.flushTask(ctx, r) })

	c.mu.Lock()
	c.cur = r
	c.state = Tracking
	c.mu.Unlock()

	c.logger.Info("Session started",
		zap.String("session", r.id),
		zap.String("user", r.meta.UserID),
		zap.String("movement", r.meta.MovementType),
		zap.Bool("detectors", det != nil))
	return c.Snapshot(), nil
}

// Stop ends the running session: it stops the tasks, finalizes any movement
// recording, exports the session, then closes the source and detectors.
// Stopping an idle controller returns the previous export and releases
// nothing.
func (c *Controller) Stop(ctx context.Context) (*export.Result, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r := c.current()
	if c.State() != Tracking || r == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.lastResult, nil
	}
	c.setState(Stopping)

	// Late flush results carry the old generation and are dropped.
	c.generation.Add(1)
	r.tasks.stop(c.config.StopTimeout)

	var errs error
	var clips []recording.Clip
	if rec := c.deps.Recorder; rec != nil {
		if rec.Active() {
			if _, err := rec.Stop(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("finalize recording: %w", err))
			}
		}
		clips = rec.TakeClips()
	}

	res, err := c.deps.Exporter.ExportSession(ctx, r.history, r.meta, clips)
	if err != nil {
		c.logger.Warn("Export completed with errors", zap.String("session", r.id), zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	if err := r.source.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close source: %w", err))
	}
	if r.detector != nil {
		if err := r.detector.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close detectors: %w", err))
		}
	}

	c.deps.Broadcaster.Publish(analysis.Empty())

	c.mu.Lock()
	c.cur = nil
	c.lastResult = &res
	c.state = Idle
	c.mu.Unlock()

	c.logger.Info("Session stopped",
		zap.String("session", r.id),
		zap.Int64("frames", r.frames.Load()),
		zap.String("video_url", res.VideoURL))
	return &res, errs
}

// SetVisible suspends the session when hidden and resumes it when visible
// again. Elapsed time is re-based on the server clock at both edges.
func (c *Controller) SetVisible(ctx context.Context, visible bool) (Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r := c.current()
	if c.State() != Tracking || r == nil {
		return c.Snapshot(), ErrNotTracking
	}

	if visible {
		r.baseline.resume(ctx)
		if r.gate.unpause() {
			c.deps.Broadcaster.Update(broadcast.Patch{IsAnalyzing: someBool(true)})
			c.logger.Info("Session resumed", zap.String("session", r.id))
		}
	} else {
		if r.gate.pause() {
			r.baseline.pause(ctx)
			c.deps.Broadcaster.Update(broadcast.Patch{IsAnalyzing: someBool(false)})
			c.logger.Info("Session paused", zap.String("session", r.id))
		}
	}
	return c.Snapshot(), nil
}

// SourceDone is closed when the running session's source runs out of
// frames. It returns nil when idle.
func (c *Controller) SourceDone() <-chan struct{} {
	if r := c.current(); r != nil {
		return r.sourceDone
	}
	return nil
}

// History returns the running session's history, or nil when idle.
func (c *Controller) History() *history.Recorder {
	if r := c.current(); r != nil {
		return r.history
	}
	return nil
}

// Snapshot reports the controller's state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		State:      c.state,
		Generation: c.generation.Load(),
		LastExport: c.lastResult,
	}
	r := c.cur
	c.mu.RUnlock()

	if r == nil {
		return snap
	}
	snap.SessionID = r.id
	snap.UserID = r.meta.UserID
	snap.MovementType = r.meta.MovementType
	snap.StartedAt = r.meta.StartedAt
	snap.ElapsedMs = r.baseline.Elapsed().Milliseconds()
	snap.Paused = r.gate.isPaused()
	snap.Frames = r.frames.Load()
	snap.PoseSamples, snap.FaceSamples, snap.HandSamples = r.history.Lens()
	snap.Rejected = r.history.Rejected()
	snap.Captured = r.ring.Len()
	if c.deps.Recorder != nil {
		snap.Recording = c.deps.Recorder.Active()
	}
	select {
	case <-r.sourceDone:
		snap.SourceDone = true
	default:
	}
	return snap
}

// Close stops any running session.
func (c *Controller) Close(ctx context.Context) error {
	_, err := c.Stop(ctx)
	return err
}
