package analysis

import "github.com/mikeyg42/bodytrack/internal/landmark"

// HandLandmarkCount is the number of points in a complete hand.
const HandLandmarkCount = 21

const (
	wristIdx     = 0
	thumbTipIdx  = 4
	indexTipIdx  = 8
	palmBaseIdx  = 9
	middleTipIdx = 12
	ringTipIdx   = 16
	pinkyTipIdx  = 20
)

var fingerTips = [5]int{thumbTipIdx, indexTipIdx, middleTipIdx, ringTipIdx, pinkyTipIdx}

func (a *Analyzer) hand(points []landmark.Point, side Handedness) *HandState {
	if len(points) == 0 {
		return nil
	}
	lm := make([]landmark.Point, len(points))
	copy(lm, points)
	return &HandState{
		Handedness: side,
		Gesture:    a.Gesture(points),
		Landmarks:  lm,
	}
}

// Gesture classifies a hand. Predicates are tried in a fixed order and the
// first match wins; fewer than 21 points is Unknown.
func (a *Analyzer) Gesture(points []landmark.Point) Gesture {
	if len(points) < HandLandmarkCount {
		return GestureUnknown
	}
	switch {
	case a.isFist(points):
		return GestureFist
	case a.isVictory(points):
		return GestureVictory
	case a.isOK(points):
		return GestureOK
	case a.isThumbsUp(points):
		return GestureThumbsUp
	case a.isOpenHand(points):
		return GestureOpenHand
	}
	return GestureNeutral
}

func (a *Analyzer) isFist(p []landmark.Point) bool {
	base := p[palmBaseIdx]
	for _, tip := range fingerTips {
		if abs(p[tip].Y-base.Y) >= a.t.FistBand {
			return false
		}
	}
	return true
}

func (a *Analyzer) isVictory(p []landmark.Point) bool {
	raised := p[palmBaseIdx].Y - a.t.FingerMargin
	return p[indexTipIdx].Y < raised && p[middleTipIdx].Y < raised &&
		p[ringTipIdx].Y > raised && p[pinkyTipIdx].Y > raised
}

func (a *Analyzer) isOK(p []landmark.Point) bool {
	return dist2D(p[thumbTipIdx], p[indexTipIdx]) < a.t.OKDistance
}

func (a *Analyzer) isThumbsUp(p []landmark.Point) bool {
	return p[thumbTipIdx].Y < p[wristIdx].Y-a.t.FingerMargin
}

func (a *Analyzer) isOpenHand(p []landmark.Point) bool {
	raised := p[palmBaseIdx].Y - a.t.FingerMargin
	n := 0
	for _, tip := range fingerTips {
		if p[tip].Y < raised {
			n++
		}
	}
	return n >= a.t.OpenHandMinTips
}

// HandConfidence scores landmark completeness, 100 for a full hand.
func HandConfidence(h *HandState) int {
	if h == nil {
		return 0
	}
	return clampPercent(float64(len(h.Landmarks)) / HandLandmarkCount * 100)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
