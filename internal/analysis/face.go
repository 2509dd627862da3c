package analysis

import (
	"math"

	"github.com/mikeyg42/bodytrack/internal/landmark"
)

func (a *Analyzer) face(points []landmark.Point) FaceState {
	var state FaceState
	if head, ok := at(points, 0); ok {
		state.HeadPosition = Vec3{X: head.X, Y: head.Y, Z: head.Z}
	}
	if len(points) < a.t.FaceMinLandmarks {
		return state
	}

	state.MouthOpenness = a.mouthOpenness(points)
	state.EyeBlinkLeft = a.eyeBlink(points, a.t.BlinkLeftStart)
	state.EyeBlinkRight = a.eyeBlink(points, a.t.BlinkRightStart)
	state.EyeGazeLeft = a.eyeGaze(points, a.t.GazeLeftIndex)
	state.EyeGazeRight = a.eyeGaze(points, a.t.GazeRightIndex)
	return state
}

func (a *Analyzer) mouthOpenness(points []landmark.Point) int {
	upper, ok1 := at(points, a.t.MouthUpperIndex)
	lower, ok2 := at(points, a.t.MouthLowerIndex)
	if !ok1 || !ok2 {
		return 0
	}
	return clampPercent(dist2D(upper, lower) * a.t.MouthScale)
}

// eyeBlink averages the distance of consecutive landmark pairs in the eye
// window; closer pairs mean a more closed eye and a higher score.
func (a *Analyzer) eyeBlink(points []landmark.Point, start int) int {
	if start < 0 || start >= len(points) {
		return 0
	}
	end := min(start+a.t.BlinkWindow, len(points))
	window := points[start:end]

	var total float64
	var pairs int
	for i := 0; i+1 < len(window); i += 2 {
		total += dist2D(window[i], window[i+1])
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return clampPercent(math.Max(0, 100-total/float64(pairs)*a.t.BlinkScale))
}

func (a *Analyzer) eyeGaze(points []landmark.Point, pupil int) float64 {
	p, ok := at(points, pupil)
	if !ok {
		return 0
	}
	return p.X * a.t.GazeScale
}

// faceConfidence is the mean of 1-|z| over the mesh, as a percentage.
func faceConfidence(points []landmark.Point) int {
	if len(points) == 0 {
		return 0
	}
	var total float64
	for _, p := range points {
		total += math.Max(0, 1-math.Abs(p.Z))
	}
	return clampPercent(total / float64(len(points)) * 100)
}
