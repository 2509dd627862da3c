package analysis

import "github.com/mikeyg42/bodytrack/internal/landmark"

// MediaPipe pose indices for the directly mapped joints.
var poseIndex = map[BodyPoint]int{
	Head:          0,
	LeftShoulder:  11,
	RightShoulder: 12,
	LeftElbow:     13,
	RightElbow:    14,
	LeftWrist:     15,
	RightWrist:    16,
	LeftHip:       23,
	RightHip:      24,
	LeftKnee:      25,
	RightKnee:     26,
	LeftAnkle:     27,
	RightAnkle:    28,
}

// Joints with no landmark of their own, taken as the midpoint of a pair.
var poseMidpoints = map[BodyPoint][2]int{
	Neck: {11, 12},
	Hips: {23, 24},
}

func (a *Analyzer) pose(points []landmark.Point) PoseState {
	state := make(PoseState, len(BodyPoints))

	for name, idx := range poseIndex {
		p, ok := at(points, idx)
		if !ok {
			continue
		}
		state[name] = Joint{
			Position:   Vec3{X: p.X, Y: p.Y, Z: p.Z},
			Confidence: p.Confidence(),
		}
	}

	for name, pair := range poseMidpoints {
		p, ok1 := at(points, pair[0])
		q, ok2 := at(points, pair[1])
		if !ok1 || !ok2 {
			continue
		}
		state[name] = Joint{
			Position: Vec3{
				X: (p.X + q.X) / 2,
				Y: (p.Y + q.Y) / 2,
				Z: (p.Z + q.Z) / 2,
			},
			Confidence: min(p.Confidence(), q.Confidence()),
		}
	}

	return state
}

// poseConfidence averages detector confidence over the key subset that is
// present, as a 0..100 percentage.
func (a *Analyzer) poseConfidence(points []landmark.Point) int {
	var total float64
	var count int
	for _, idx := range a.t.PoseKeyIndices {
		p, ok := at(points, idx)
		if !ok {
			continue
		}
		total += p.Confidence()
		count++
	}
	if count == 0 {
		return 0
	}
	return clampPercent(total / float64(count) * 100)
}
