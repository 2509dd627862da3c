// Package history records per-kind time series of analysis results for one
// session and joins them for export.
package history

import (
	"sort"
	"sync"

	"github.com/mikeyg42/bodytrack/internal/analysis"
)

// Entry is one timestamped sample. Timestamp is milliseconds since the
// session's monotonic origin.
type Entry[T any] struct {
	Timestamp int64 `json:"timestamp"`
	Data      T     `json:"data"`
}

// PoseSample is the pose part of a frame.
type PoseSample struct {
	Confidence int                `json:"confidence"`
	State      analysis.PoseState `json:"state"`
}

// FaceSample is the face part of a frame.
type FaceSample struct {
	Confidence int                `json:"confidence"`
	State      analysis.FaceState `json:"state"`
}

// HandsSample holds whichever hands were present; at least one is set.
type HandsSample struct {
	Left  *analysis.HandState `json:"left,omitempty"`
	Right *analysis.HandState `json:"right,omitempty"`
}

// Row is one line of the joined view. A nil field means that sequence has no
// entry at exactly this timestamp.
type Row struct {
	Timestamp int64
	Pose      *PoseSample
	Face      *FaceSample
	Hands     *HandsSample
}

// Recorder holds the three append-only sequences. Each sequence is strictly
// increasing in timestamp; out-of-order samples are discarded.
type Recorder struct {
	mu    sync.RWMutex
	pose  []Entry[PoseSample]
	face  []Entry[FaceSample]
	hands []Entry[HandsSample]

	rejected int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends to each sequence whose sub-state carries data. Sequences
// are independent, so their lengths and timestamps diverge.
func (r *Recorder) Record(ts int64, a analysis.BodyAnalysis) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Pose != nil {
		if n := len(r.pose); n > 0 && ts <= r.pose[n-1].Timestamp {
			r.rejected++
		} else {
			r.pose = append(r.pose, Entry[PoseSample]{
				Timestamp: ts,
				Data:      PoseSample{Confidence: a.PoseConfidence, State: *a.Pose},
			})
		}
	}

	if a.Face != nil {
		if n := len(r.face); n > 0 && ts <= r.face[n-1].Timestamp {
			r.rejected++
		} else {
			r.face = append(r.face, Entry[FaceSample]{
				Timestamp: ts,
				Data:      FaceSample{Confidence: a.FaceConfidence, State: *a.Face},
			})
		}
	}

	if a.Hands.Left != nil || a.Hands.Right != nil {
		if n := len(r.hands); n > 0 && ts <= r.hands[n-1].Timestamp {
			r.rejected++
		} else {
			r.hands = append(r.hands, Entry[HandsSample]{
				Timestamp: ts,
				Data:      HandsSample{Left: a.Hands.Left, Right: a.Hands.Right},
			})
		}
	}
}

// Pose returns a copy of the pose sequence.
func (r *Recorder) Pose() []Entry[PoseSample] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry[PoseSample](nil), r.pose...)
}

// Face returns a copy of the face sequence.
func (r *Recorder) Face() []Entry[FaceSample] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry[FaceSample](nil), r.face...)
}

// Hands returns a copy of the hands sequence.
func (r *Recorder) Hands() []Entry[HandsSample] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry[HandsSample](nil), r.hands...)
}

// Lens returns the three sequence lengths.
func (r *Recorder) Lens() (pose, face, hands int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pose), len(r.face), len(r.hands)
}

// Rejected counts samples dropped for arriving out of order.
func (r *Recorder) Rejected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rejected
}

// Join returns one row per distinct timestamp across all sequences, in
// ascending order, with each sequence's entry at exactly that timestamp.
// Nothing is interpolated.
func (r *Recorder) Join() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make(map[int64]*Row, len(r.pose))
	row := func(ts int64) *Row {
		if rw, ok := rows[ts]; ok {
			return rw
		}
		rw := &Row{Timestamp: ts}
		rows[ts] = rw
		return rw
	}

	for i := range r.pose {
		row(r.pose[i].Timestamp).Pose = &r.pose[i].Data
	}
	for i := range r.face {
		row(r.face[i].Timestamp).Face = &r.face[i].Data
	}
	for i := range r.hands {
		row(r.hands[i].Timestamp).Hands = &r.hands[i].Data
	}

	out := make([]Row, 0, len(rows))
	for _, rw := range rows {
		out = append(out, *rw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
