package history

import (
	"testing"

	"github.com/mikeyg42/bodytrack/internal/analysis"
)

func withPose() analysis.BodyAnalysis {
	p := analysis.PoseState{analysis.Head: {Confidence: 1}}
	return analysis.BodyAnalysis{Pose: &p, PoseConfidence: 90}
}

func withFace() analysis.BodyAnalysis {
	return analysis.BodyAnalysis{Face: &analysis.FaceState{MouthOpenness: 5}, FaceConfidence: 70}
}

func withHand() analysis.BodyAnalysis {
	return analysis.BodyAnalysis{Hands: analysis.Hands{
		Right: &analysis.HandState{Handedness: analysis.RightHand, Gesture: analysis.GestureOK},
	}}
}

func TestRecordAppendsIndependently(t *testing.T) {
	r := NewRecorder()

	all := withPose()
	all.Face = withFace().Face
	r.Record(10, all)
	r.Record(20, withHand())
	r.Record(30, analysis.BodyAnalysis{})

	pose, face, hands := r.Lens()
	if pose != 1 || face != 1 || hands != 1 {
		t.Fatalf("Lens() = %d,%d,%d want 1,1,1", pose, face, hands)
	}
	if got := r.Hands()[0].Timestamp; got != 20 {
		t.Fatalf("hands timestamp = %d, want 20", got)
	}
}

func TestRecordRejectsOutOfOrder(t *testing.T) {
	r := NewRecorder()
	r.Record(50, withPose())
	r.Record(50, withPose())
	r.Record(40, withPose())
	r.Record(60, withPose())

	got := r.Pose()
	if len(got) != 2 || got[0].Timestamp != 50 || got[1].Timestamp != 60 {
		t.Fatalf("pose sequence = %+v", got)
	}
	if r.Rejected() != 2 {
		t.Fatalf("Rejected() = %d, want 2", r.Rejected())
	}
}

func TestJoinDisjointTimestamps(t *testing.T) {
	r := NewRecorder()
	for _, ts := range []int64{1, 4, 7} {
		r.Record(ts, withPose())
	}
	for _, ts := range []int64{2, 5} {
		r.Record(ts, withFace())
	}
	for _, ts := range []int64{3, 6, 8, 9} {
		r.Record(ts, withHand())
	}

	rows := r.Join()
	if len(rows) != 9 {
		t.Fatalf("len(Join()) = %d, want 9", len(rows))
	}
	for i, row := range rows {
		if row.Timestamp != int64(i+1) {
			t.Fatalf("row %d timestamp = %d, want ascending", i, row.Timestamp)
		}
		set := 0
		if row.Pose != nil {
			set++
		}
		if row.Face != nil {
			set++
		}
		if row.Hands != nil {
			set++
		}
		if set != 1 {
			t.Fatalf("row %d has %d sub-states, want exactly 1", i, set)
		}
	}
}

func TestJoinSharedTimestamp(t *testing.T) {
	r := NewRecorder()
	both := withPose()
	both.Hands = withHand().Hands
	r.Record(100, both)
	r.Record(200, withFace())

	rows := r.Join()
	if len(rows) != 2 {
		t.Fatalf("len(Join()) = %d, want 2", len(rows))
	}
	if rows[0].Pose == nil || rows[0].Hands == nil || rows[0].Face != nil {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Face == nil || rows[1].Face.Confidence != 70 {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}
