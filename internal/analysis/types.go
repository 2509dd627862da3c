// Package analysis turns raw landmark frames into a BodyAnalysis snapshot:
// named pose joints, face scalars, hand gestures and derived body metrics.
// Analyze is pure and total over partial input.
package analysis

import "github.com/mikeyg42/bodytrack/internal/landmark"

// BodyPoint names one of the tracked pose joints.
type BodyPoint string

const (
	Head          BodyPoint = "Head"
	Neck          BodyPoint = "Neck"
	LeftShoulder  BodyPoint = "LeftShoulder"
	RightShoulder BodyPoint = "RightShoulder"
	LeftElbow     BodyPoint = "LeftElbow"
	RightElbow    BodyPoint = "RightElbow"
	LeftWrist     BodyPoint = "LeftWrist"
	RightWrist    BodyPoint = "RightWrist"
	Hips          BodyPoint = "Hips"
	LeftHip       BodyPoint = "LeftHip"
	RightHip      BodyPoint = "RightHip"
	LeftKnee      BodyPoint = "LeftKnee"
	RightKnee     BodyPoint = "RightKnee"
	LeftAnkle     BodyPoint = "LeftAnkle"
	RightAnkle    BodyPoint = "RightAnkle"
)

// BodyPoints lists every tracked joint in display order.
var BodyPoints = []BodyPoint{
	Head, Neck, LeftShoulder, RightShoulder, LeftElbow, RightElbow,
	LeftWrist, RightWrist, Hips, LeftHip, RightHip, LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

// Vec3 is a normalized position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Joint is one named pose point.
type Joint struct {
	Position   Vec3    `json:"position"`
	Confidence float64 `json:"confidence"`
}

// PoseState maps joints to positions. Joints the detector did not supply are
// absent from the map.
type PoseState map[BodyPoint]Joint

// Joint returns the named joint and whether it was detected.
func (p PoseState) Joint(name BodyPoint) (Joint, bool) {
	j, ok := p[name]
	return j, ok
}

// FaceState holds scalars derived from a face mesh. Once a face is detected
// every field is defined; missing inputs yield zero.
type FaceState struct {
	HeadPosition  Vec3    `json:"headPosition"`
	MouthOpenness int     `json:"mouthOpenness"`
	EyeBlinkLeft  int     `json:"eyeBlinkLeft"`
	EyeBlinkRight int     `json:"eyeBlinkRight"`
	EyeGazeLeft   float64 `json:"eyeGazeLeft"`
	EyeGazeRight  float64 `json:"eyeGazeRight"`
}

// Handedness is left or right.
type Handedness string

const (
	LeftHand  Handedness = "left"
	RightHand Handedness = "right"
)

// Gesture is the classified hand shape.
type Gesture string

const (
	GestureFist     Gesture = "Fist"
	GestureVictory  Gesture = "Victory"
	GestureOK       Gesture = "OK"
	GestureThumbsUp Gesture = "ThumbsUp"
	GestureOpenHand Gesture = "OpenHand"
	GestureNeutral  Gesture = "Neutral"
	GestureUnknown  Gesture = "Unknown"
)

// HandState is one detected hand.
type HandState struct {
	Handedness Handedness       `json:"handedness"`
	Gesture    Gesture          `json:"gesture"`
	Landmarks  []landmark.Point `json:"landmarks"`
}

// Hands holds the per-side hand states; either may be nil.
type Hands struct {
	Left  *HandState `json:"left"`
	Right *HandState `json:"right"`
}

// HandsDetected flags which hands are present.
type HandsDetected struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Posture is the shoulder-line classification.
type Posture string

const (
	PostureStraight Posture = "Droite"
	PostureLeaning  Posture = "Penchée"
	PostureNeutral  Posture = "Neutre"
)

// Expression is the face classification.
type Expression string

const (
	ExpressionMouthOpen Expression = "Bouche ouverte"
	ExpressionBlink     Expression = "Clignotement"
	ExpressionNatural   Expression = "Naturelle"
	ExpressionNeutral   Expression = "Neutre"
)

// BodyMetrics are derived classifications.
type BodyMetrics struct {
	Posture           Posture    `json:"posture"`
	FaceExpression    Expression `json:"faceExpression"`
	OverallConfidence int        `json:"overallConfidence"`
}

// BodyAnalysis is the broadcast snapshot for one frame. It is always replaced
// as a whole; readers never see a partially updated value.
type BodyAnalysis struct {
	Pose           *PoseState    `json:"pose"`
	Face           *FaceState    `json:"face"`
	Hands          Hands         `json:"hands"`
	IsAnalyzing    bool          `json:"isAnalyzing"`
	PoseConfidence int           `json:"poseConfidence"`
	FaceConfidence int           `json:"faceConfidence"`
	HandsDetected  HandsDetected `json:"handsDetected"`
	BodyMetrics    BodyMetrics   `json:"bodyMetrics"`
}

// Empty returns the idle snapshot: nothing detected, neutral metrics.
func Empty() BodyAnalysis {
	return BodyAnalysis{
		BodyMetrics: BodyMetrics{
			Posture:        PostureNeutral,
			FaceExpression: ExpressionNeutral,
		},
	}
}
