package recording

import (
	"errors"
	"image"
	"testing"
	"time"
)

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(Config{Dir: t.TempDir()})
	clip, err := r.Stop()
	if clip != nil || err != nil {
		t.Fatalf("Stop() = %v, %v; want nil, nil", clip, err)
	}
}

func TestWriteFrameRequiresStart(t *testing.T) {
	r := NewRecorder(Config{Dir: t.TempDir()})
	_, err := r.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8)), time.Now())
	if !errors.Is(err, ErrNotRecording) {
		t.Fatalf("WriteFrame() error = %v, want ErrNotRecording", err)
	}
}

func TestMaxDurationEndsClip(t *testing.T) {
	r := NewRecorder(Config{Dir: t.TempDir(), MaxDuration: time.Second})
	start := time.Now()
	if err := r.Start("m1", start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start("m2", start); err != nil || !r.Active() {
		t.Fatalf("second Start should be a no-op")
	}

	// No frames were written, so the expired clip produces nothing.
	clip, err := r.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8)), start.Add(2*time.Second))
	if err != nil || clip != nil {
		t.Fatalf("WriteFrame past max = %v, %v", clip, err)
	}
	if r.Active() {
		t.Fatalf("recorder should be inactive after max duration")
	}
	if len(r.TakeClips()) != 0 {
		t.Fatalf("empty clip should not be kept")
	}
}
