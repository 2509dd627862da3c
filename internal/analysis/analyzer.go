package analysis

import (
	"math"

	"github.com/mikeyg42/bodytrack/internal/landmark"
)

// Analyzer converts raw landmark frames into BodyAnalysis snapshots.
type Analyzer struct {
	t Thresholds
}

// NewAnalyzer returns an analyzer using t.
func NewAnalyzer(t Thresholds) *Analyzer {
	return &Analyzer{t: t}
}

// Thresholds returns the constants in use.
func (a *Analyzer) Thresholds() Thresholds {
	return a.t
}

// Analyze builds a complete snapshot from raw. Every sub-state whose input is
// missing or unusable is nil; Analyze never panics on partial input.
func (a *Analyzer) Analyze(raw landmark.RawFrame) BodyAnalysis {
	out := Empty()
	out.IsAnalyzing = true

	if len(raw.Pose) > 0 {
		pose := a.pose(raw.Pose)
		out.Pose = &pose
		out.PoseConfidence = a.poseConfidence(raw.Pose)
	}

	if len(raw.Face) > 0 {
		face := a.face(raw.Face)
		out.Face = &face
		out.FaceConfidence = faceConfidence(raw.Face)
	}

	out.Hands.Left = a.hand(raw.LeftHand, LeftHand)
	out.Hands.Right = a.hand(raw.RightHand, RightHand)
	out.HandsDetected = HandsDetected{
		Left:  out.Hands.Left != nil,
		Right: out.Hands.Right != nil,
	}

	out.BodyMetrics = a.metrics(out)
	return out
}

// clampPercent rounds v and limits it to [0,100].
func clampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}

func at(points []landmark.Point, i int) (landmark.Point, bool) {
	if i < 0 || i >= len(points) {
		return landmark.Point{}, false
	}
	return points[i], true
}

func dist2D(p, q landmark.Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
