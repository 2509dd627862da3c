package broadcast

import (
	"testing"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/opt"
)

func TestPublishReplacesValue(t *testing.T) {
	b := New()

	var seen []int
	cancel := b.Subscribe(func(v analysis.BodyAnalysis) { seen = append(seen, v.PoseConfidence) })
	defer cancel()

	b.Publish(analysis.BodyAnalysis{PoseConfidence: 40, Face: &analysis.FaceState{MouthOpenness: 3}})
	b.Publish(analysis.BodyAnalysis{PoseConfidence: 60})

	got := b.Current()
	if got.PoseConfidence != 60 || got.Face != nil {
		t.Fatalf("Current() = %+v, want full replacement", got)
	}
	if len(seen) != 2 || seen[0] != 40 || seen[1] != 60 {
		t.Fatalf("subscriber saw %v, want [40 60]", seen)
	}
}

func TestUpdateMergesNamedFields(t *testing.T) {
	b := New()
	b.Publish(analysis.BodyAnalysis{
		IsAnalyzing:    true,
		PoseConfidence: 80,
		Face:           &analysis.FaceState{MouthOpenness: 12},
	})

	got := b.Update(Patch{
		IsAnalyzing: opt.Some(false),
		Face:        opt.Some[*analysis.FaceState](nil),
	})

	if got.IsAnalyzing {
		t.Fatalf("IsAnalyzing should be overwritten")
	}
	if got.Face != nil {
		t.Fatalf("Face should be overwritten with nil")
	}
	if got.PoseConfidence != 80 {
		t.Fatalf("PoseConfidence = %d, untouched field should keep 80", got.PoseConfidence)
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	b := New()

	b.Subscribe(func(analysis.BodyAnalysis) { panic("bad subscriber") })
	var got int
	b.Subscribe(func(v analysis.BodyAnalysis) { got = v.FaceConfidence })

	b.Publish(analysis.BodyAnalysis{FaceConfidence: 7})

	if got != 7 {
		t.Fatalf("healthy subscriber got %d, want 7", got)
	}
	if s := b.Stats(); s.Panics != 1 || s.Delivered != 1 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	cancel := b.Subscribe(func(analysis.BodyAnalysis) { calls++ })

	b.Publish(analysis.BodyAnalysis{})
	cancel()
	cancel()
	b.Publish(analysis.BodyAnalysis{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWatchNeverBlocks(t *testing.T) {
	b := New()
	ch, cancel := b.Watch(2)

	for i := 1; i <= 5; i++ {
		b.Publish(analysis.BodyAnalysis{PoseConfidence: i})
	}

	first := <-ch
	second := <-ch
	if first.PoseConfidence != 4 || second.PoseConfidence != 5 {
		t.Fatalf("got %d,%d want newest values 4,5", first.PoseConfidence, second.PoseConfidence)
	}
	if b.Stats().Dropped != 3 {
		t.Fatalf("Dropped = %d, want 3", b.Stats().Dropped)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	b.Publish(analysis.BodyAnalysis{})
}
