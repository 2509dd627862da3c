// Package landmark defines the raw detector output consumed by the analyzer
// and the detector contracts that produce it.
package landmark

import (
	"context"
	"errors"
	"image"

	"github.com/mikeyg42/bodytrack/internal/opt"
)

// Point is one normalized landmark. X and Y are in [0,1] image space, Z is a
// relative depth. Visibility and Score are optional per detector.
type Point struct {
	X          float64             `json:"x"`
	Y          float64             `json:"y"`
	Z          float64             `json:"z"`
	Visibility opt.Option[float64] `json:"visibility"`
	Score      opt.Option[float64] `json:"score"`
}

// Confidence resolves the point's confidence: visibility first, then score,
// else 0.
func (p Point) Confidence() float64 {
	if v, ok := p.Visibility.Get(); ok {
		return v
	}
	return p.Score.Or(0)
}

// RawFrame is the landmark set for one video frame. Any slice may be empty
// when the corresponding detector found nothing or is unavailable.
type RawFrame struct {
	Pose      []Point `json:"pose,omitempty"`
	PoseWorld []Point `json:"poseWorld,omitempty"`
	Face      []Point `json:"face,omitempty"`
	LeftHand  []Point `json:"leftHand,omitempty"`
	RightHand []Point `json:"rightHand,omitempty"`
}

// Empty reports whether no detector produced anything.
func (f RawFrame) Empty() bool {
	return len(f.Pose) == 0 && len(f.Face) == 0 && len(f.LeftHand) == 0 && len(f.RightHand) == 0
}

// PoseResult is a pose detector's output. Each entry is one detected person.
type PoseResult struct {
	Landmarks      [][]Point `json:"landmarks"`
	WorldLandmarks [][]Point `json:"worldLandmarks"`
}

// FaceResult is a face-mesh detector's output.
type FaceResult struct {
	Landmarks [][]Point `json:"landmarks"`
}

// HandsResult is a hand detector's output. Handedness is parallel to
// Landmarks and holds the category name ("Left" or "Right").
type HandsResult struct {
	Landmarks  [][]Point `json:"landmarks"`
	Handedness []string  `json:"handedness"`
}

// ErrNoDetector is returned when a source has no detector at all.
var ErrNoDetector = errors.New("landmark: no detector available")

// PoseDetector detects body pose landmarks.
type PoseDetector interface {
	DetectPose(ctx context.Context, img image.Image) (*PoseResult, error)
	Close() error
}

// FaceDetector detects face-mesh landmarks.
type FaceDetector interface {
	DetectFace(ctx context.Context, img image.Image) (*FaceResult, error)
	Close() error
}

// HandDetector detects hand landmarks with handedness.
type HandDetector interface {
	DetectHands(ctx context.Context, img image.Image) (*HandsResult, error)
	Close() error
}
