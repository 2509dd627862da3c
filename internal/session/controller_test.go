package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/capture"
	"github.com/mikeyg42/bodytrack/internal/landmark"
)

type fakeSource struct {
	frames  chan camera.Frame
	openErr error
	opened  atomic.Int32
	closed  atomic.Int32
	openCtx context.Context
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan camera.Frame, 16)}
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.opened.Add(1)
	s.openCtx = ctx
	return s.openErr
}
func (s *fakeSource) Frames() <-chan camera.Frame { return s.frames }
func (s *fakeSource) Close() error               { s.closed.Add(1); return nil }

func (s *fakeSource) send(n int) {
	for i := 0; i < n; i++ {
		s.frames <- camera.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Timestamp: time.Now(), Sequence: int64(i)}
	}
}

type fakeDetector struct {
	closed atomic.Int32
}

func (d *fakeDetector) Detect(context.Context, image.Image) landmark.RawFrame {
	pose := make([]landmark.Point, 33)
	return landmark.RawFrame{Pose: pose}
}
func (d *fakeDetector) Close() error { d.closed.Add(1); return nil }

type fakeSnapshotter struct{}

func (fakeSnapshotter) Encode(_ image.Image, ts time.Time) (capture.Image, error) {
	return capture.Image{Timestamp: ts, Data: []byte{1}}, nil
}

type harness struct {
	ctrl     *Controller
	source   *fakeSource
	detector *fakeDetector
	opens    atomic.Int32
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	h := &harness{source: newFakeSource(), detector: &fakeDetector{}}
	ctrl, err := NewController(config, Deps{
		OpenSource: func(context.Context) (camera.Source, error) {
			h.opens.Add(1)
			return h.source, nil
		},
		OpenDetector: func(context.Context) (Detector, error) { return h.detector, nil },
		Snapshotter:  fakeSnapshotter{},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, Config{UserID: "u1", MovementType: "squat"})
	ctx := context.Background()

	snap, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.State != Tracking || snap.SessionID == "" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !h.ctrl.Broadcaster().Current().IsAnalyzing {
		t.Fatal("broadcast value not analyzing after start")
	}

	h.source.send(3)
	waitFor(t, "frames", func() bool { return h.ctrl.Snapshot().Frames == 3 })
	if n := h.ctrl.Snapshot().PoseSamples; n != 3 {
		t.Fatalf("pose samples = %d, want 3", n)
	}

	res, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res == nil || res.VideoURL == "" {
		t.Fatalf("result = %+v", res)
	}
	if h.ctrl.State() != Idle {
		t.Fatalf("state = %v, want idle", h.ctrl.State())
	}
	if h.ctrl.Broadcaster().Current().IsAnalyzing {
		t.Fatal("broadcast value still analyzing after stop")
	}
	if h.source.closed.Load() != 1 || h.detector.closed.Load() != 1 {
		t.Fatalf("closed source=%d detector=%d", h.source.closed.Load(), h.detector.closed.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	second, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if first != second {
		t.Fatal("second Stop produced a new export")
	}
	if h.source.closed.Load() != 1 || h.detector.closed.Load() != 1 {
		t.Fatalf("resources released more than once: source=%d detector=%d",
			h.source.closed.Load(), h.detector.closed.Load())
	}
}

func TestStartWhileTrackingIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second.SessionID != first.SessionID || second.Generation != first.Generation {
		t.Fatalf("second Start changed session: %+v vs %+v", second, first)
	}
	if h.opens.Load() != 1 || h.source.opened.Load() != 1 {
		t.Fatalf("source acquired %d times", h.opens.Load())
	}
}

func TestAcquireFailure(t *testing.T) {
	tests := []struct {
		name string
		open func(context.Context) (camera.Source, error)
	}{
		{"factory", func(context.Context) (camera.Source, error) { return nil, camera.ErrUnavailable }},
		{"open", func(context.Context) (camera.Source, error) {
			s := newFakeSource()
			s.openErr = errors.New("permission denied")
			return s, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, err := NewController(Config{}, Deps{OpenSource: tt.open})
			if err != nil {
				t.Fatalf("NewController: %v", err)
			}
			snap, err := ctrl.Start(context.Background())
			if !errors.Is(err, ErrAcquire) {
				t.Fatalf("Start error = %v, want ErrAcquire", err)
			}
			if snap.State != Idle || snap.SessionID != "" {
				t.Fatalf("snapshot = %+v", snap)
			}
		})
	}
}

func TestDetectorFailureIsNotFatal(t *testing.T) {
	src := newFakeSource()
	ctrl, err := NewController(Config{}, Deps{
		OpenSource:   func(context.Context) (camera.Source, error) { return src, nil },
		OpenDetector: func(context.Context) (Detector, error) { return nil, landmark.ErrNoDetector },
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer ctrl.Close(context.Background())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.send(1)
	waitFor(t, "frame", func() bool { return ctrl.Snapshot().Frames == 1 })

	cur := ctrl.Broadcaster().Current()
	if cur.PoseConfidence != 0 || cur.FaceConfidence != 0 || cur.HandsDetected.Left || cur.HandsDetected.Right {
		t.Fatalf("analysis without detectors = %+v", cur)
	}
	if !cur.IsAnalyzing {
		t.Fatal("analysis not marked analyzing")
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := h.ctrl.SetVisible(ctx, false)
	if err != nil {
		t.Fatalf("SetVisible(false): %v", err)
	}
	if !snap.Paused || snap.State != Tracking {
		t.Fatalf("paused snapshot = %+v", snap)
	}
	if h.ctrl.Broadcaster().Current().IsAnalyzing {
		t.Fatal("analysis still marked analyzing while paused")
	}

	h.source.send(2)
	time.Sleep(50 * time.Millisecond)
	if n := h.ctrl.Snapshot().Frames; n != 0 {
		t.Fatalf("processed %d frames while paused", n)
	}

	if _, err := h.ctrl.SetVisible(ctx, true); err != nil {
		t.Fatalf("SetVisible(true): %v", err)
	}
	// A frame already in flight when the pause landed is dropped; the rest
	// are analyzed once visible again.
	waitFor(t, "frames after resume", func() bool { return h.ctrl.Snapshot().Frames > 0 })
}

func TestSetVisibleRequiresSession(t *testing.T) {
	h := newHarness(t, Config{})
	if _, err := h.ctrl.SetVisible(context.Background(), false); !errors.Is(err, ErrNotTracking) {
		t.Fatalf("SetVisible = %v, want ErrNotTracking", err)
	}
}

func TestStopInvalidatesGeneration(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	snap, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.ctrl.isCurrent(snap.Generation) {
		t.Fatal("running generation not current")
	}
	if _, err := h.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.ctrl.isCurrent(snap.Generation) {
		t.Fatal("stopped generation still current")
	}
}

func TestCaptureHonorsMinimumGap(t *testing.T) {
	h := newHarness(t, Config{MinCaptureGap: time.Second})
	ctx := context.Background()
	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.source.send(1)
	waitFor(t, "frame", func() bool { return h.ctrl.Snapshot().Frames == 1 })

	r := h.ctrl.current()
	now := time.Now()
	h.ctrl.capture(r, now)
	h.ctrl.capture(r, now.Add(500*time.Millisecond))
	if n := r.ring.Len(); n != 1 {
		t.Fatalf("captured %d snapshots inside the gap, want 1", n)
	}
	h.ctrl.capture(r, now.Add(1500*time.Millisecond))
	if n := r.ring.Len(); n != 2 {
		t.Fatalf("captured %d snapshots, want 2", n)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestBaselineExcludesPausedTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	b := newBaseline(context.Background(), clock, zapNop())

	clock.set(t0.Add(10 * time.Second))
	b.pause(context.Background())
	if got := b.Elapsed(); got != 10*time.Second {
		t.Fatalf("elapsed while paused = %v, want 10s", got)
	}

	clock.set(t0.Add(70 * time.Second))
	b.resume(context.Background())
	got := b.Elapsed()
	if got < 10*time.Second || got > 11*time.Second {
		t.Fatalf("elapsed after resume = %v, want about 10s", got)
	}
	if b.Paused() {
		t.Fatal("still paused after resume")
	}
}

func TestStartDetachesSourceFromCallerContext(t *testing.T) {
	h := newHarness(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	if err := h.source.openCtx.Err(); err != nil {
		t.Fatalf("source context ended with the caller: %v", err)
	}
	h.source.send(2)
	waitFor(t, "frames after caller cancel", func() bool { return h.ctrl.Snapshot().Frames == 2 })
	if h.ctrl.State() != Tracking {
		t.Fatalf("state = %v, want tracking", h.ctrl.State())
	}
}

func TestStartWithCancelledContext(t *testing.T) {
	h := newHarness(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ctrl.Start(ctx)
	if !errors.Is(err, ErrAcquire) {
		t.Fatalf("err = %v, want ErrAcquire", err)
	}
	if h.ctrl.State() != Idle {
		t.Fatalf("state = %v, want idle", h.ctrl.State())
	}
	if h.source.closed.Load() != 1 || h.detector.closed.Load() != 1 {
		t.Fatalf("closed source=%d detector=%d", h.source.closed.Load(), h.detector.closed.Load())
	}
}
