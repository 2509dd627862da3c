package analysis

import "math"

func (a *Analyzer) metrics(ba BodyAnalysis) BodyMetrics {
	return BodyMetrics{
		Posture:           a.posture(ba.Pose),
		FaceExpression:    a.expression(ba.Face),
		OverallConfidence: a.overall(ba),
	}
}

// posture classifies the shoulder line against horizontal. The line has no
// direction, so angles are folded into (-pi/2, pi/2].
func (a *Analyzer) posture(pose *PoseState) Posture {
	if pose == nil {
		return PostureNeutral
	}
	_, hasHead := pose.Joint(Head)
	left, hasLeft := pose.Joint(LeftShoulder)
	right, hasRight := pose.Joint(RightShoulder)
	if !hasHead || !hasLeft || !hasRight {
		return PostureNeutral
	}

	angle := math.Atan2(right.Position.Y-left.Position.Y, right.Position.X-left.Position.X)
	if angle > math.Pi/2 {
		angle -= math.Pi
	} else if angle <= -math.Pi/2 {
		angle += math.Pi
	}

	switch tilt := math.Abs(angle); {
	case tilt > a.t.PostureLeanAngle:
		return PostureLeaning
	case tilt < a.t.PostureStraightAngle:
		return PostureStraight
	}
	return PostureNeutral
}

func (a *Analyzer) expression(face *FaceState) Expression {
	if face == nil {
		return ExpressionNeutral
	}
	switch {
	case face.MouthOpenness > a.t.MouthOpenExpression:
		return ExpressionMouthOpen
	case face.EyeBlinkLeft > a.t.BlinkExpression || face.EyeBlinkRight > a.t.BlinkExpression:
		return ExpressionBlink
	}
	return ExpressionNatural
}

// overall is the weighted blend of pose, face and hand presence.
func (a *Analyzer) overall(ba BodyAnalysis) int {
	hands := 0.0
	if ba.HandsDetected.Left {
		hands += 50
	}
	if ba.HandsDetected.Right {
		hands += 50
	}
	return clampPercent(a.t.WeightPose*float64(ba.PoseConfidence) +
		a.t.WeightFace*float64(ba.FaceConfidence) +
		a.t.WeightHands*hands)
}
