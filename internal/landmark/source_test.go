package landmark

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/mikeyg42/bodytrack/internal/opt"
)

type fakePose struct {
	res    *PoseResult
	err    error
	closed int
}

func (f *fakePose) DetectPose(context.Context, image.Image) (*PoseResult, error) { return f.res, f.err }
func (f *fakePose) Close() error                                                { f.closed++; return nil }

type fakeFace struct {
	res    *FaceResult
	err    error
	closed int
}

func (f *fakeFace) DetectFace(context.Context, image.Image) (*FaceResult, error) { return f.res, f.err }
func (f *fakeFace) Close() error                                                { f.closed++; return nil }

type fakeHands struct {
	res    *HandsResult
	closed int
}

func (f *fakeHands) DetectHands(context.Context, image.Image) (*HandsResult, error) { return f.res, nil }
func (f *fakeHands) Close() error                                                  { f.closed++; return errors.New("boom") }

func points(n int) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{X: float64(i) / 100}
	}
	return out
}

func TestNewSourceRequiresDetector(t *testing.T) {
	if _, err := NewSource(nil, nil, nil); !errors.Is(err, ErrNoDetector) {
		t.Fatalf("expected ErrNoDetector, got %v", err)
	}
}

func TestDetectAssemblesFrame(t *testing.T) {
	pose := &fakePose{res: &PoseResult{Landmarks: [][]Point{points(33), points(33)}}}
	face := &fakeFace{err: errors.New("model not loaded")}
	hands := &fakeHands{res: &HandsResult{
		Landmarks:  [][]Point{points(21), points(5)},
		Handedness: []string{"Right", "Left"},
	}}

	src, err := NewSource(pose, face, hands)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	frame := src.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if len(frame.Pose) != 33 {
		t.Fatalf("pose len = %d, want 33", len(frame.Pose))
	}
	if len(frame.Face) != 0 {
		t.Fatalf("failed face detector should contribute nothing")
	}
	if len(frame.RightHand) != 21 || len(frame.LeftHand) != 5 {
		t.Fatalf("hands split wrong: left=%d right=%d", len(frame.LeftHand), len(frame.RightHand))
	}
}

func TestSplitHandsIgnoresUnlabeled(t *testing.T) {
	left, right := SplitHands(&HandsResult{
		Landmarks:  [][]Point{points(21), points(21)},
		Handedness: []string{"Left"},
	})
	if len(left) != 21 || right != nil {
		t.Fatalf("unexpected split: left=%d right=%v", len(left), right)
	}
}

func TestCloseOnce(t *testing.T) {
	pose := &fakePose{}
	hands := &fakeHands{}
	src, _ := NewSource(pose, nil, hands)

	err1 := src.Close()
	err2 := src.Close()
	if pose.closed != 1 || hands.closed != 1 {
		t.Fatalf("detectors closed pose=%d hands=%d, want 1 each", pose.closed, hands.closed)
	}
	if err1 == nil || err2 == nil {
		t.Fatalf("expected hand close error to be reported")
	}
}

func TestPointConfidence(t *testing.T) {
	tests := []struct {
		name string
		p    Point
		want float64
	}{
		{"visibility", Point{Visibility: opt.Some(0.8), Score: opt.Some(0.1)}, 0.8},
		{"score", Point{Score: opt.Some(0.4)}, 0.4},
		{"none", Point{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Confidence(); got != tt.want {
				t.Fatalf("Confidence() = %v, want %v", got, tt.want)
			}
		})
	}
}
