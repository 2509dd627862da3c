package landmark

import (
	"context"
	"image"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Source bundles the three detectors. Any of them may be nil; the source is
// usable as long as at least one is present.
type Source struct {
	Pose  PoseDetector
	Face  FaceDetector
	Hands HandDetector

	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewSource builds a source from whichever detectors are available.
func NewSource(pose PoseDetector, face FaceDetector, hands HandDetector) (*Source, error) {
	if pose == nil && face == nil && hands == nil {
		return nil, ErrNoDetector
	}
	return &Source{
		Pose:   pose,
		Face:   face,
		Hands:  hands,
		logger: zap.L().Named("landmark-source"),
	}, nil
}

// Detect runs every present detector against img and assembles a raw frame.
// A failing detector contributes nothing; its error is logged and the other
// detectors still run.
func (s *Source) Detect(ctx context.Context, img image.Image) RawFrame {
	var frame RawFrame

	if s.Pose != nil {
		res, err := s.Pose.DetectPose(ctx, img)
		if err != nil {
			s.logger.Debug("pose detection failed", zap.Error(err))
		} else if res != nil && len(res.Landmarks) > 0 {
			frame.Pose = res.Landmarks[0]
			if len(res.WorldLandmarks) > 0 {
				frame.PoseWorld = res.WorldLandmarks[0]
			}
		}
	}

	if s.Face != nil {
		res, err := s.Face.DetectFace(ctx, img)
		if err != nil {
			s.logger.Debug("face detection failed", zap.Error(err))
		} else if res != nil && len(res.Landmarks) > 0 {
			frame.Face = res.Landmarks[0]
		}
	}

	if s.Hands != nil {
		res, err := s.Hands.DetectHands(ctx, img)
		if err != nil {
			s.logger.Debug("hand detection failed", zap.Error(err))
		} else if res != nil {
			frame.LeftHand, frame.RightHand = SplitHands(res)
		}
	}

	return frame
}

// SplitHands assigns detected hands to left/right by handedness label.
// Hands without a label are ignored; a later hand with the same label wins.
func SplitHands(res *HandsResult) (left, right []Point) {
	for i, lm := range res.Landmarks {
		if i >= len(res.Handedness) {
			break
		}
		switch res.Handedness[i] {
		case "Left":
			left = lm
		case "Right":
			right = lm
		}
	}
	return left, right
}

// Close releases every detector handle once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.Pose != nil {
			s.closeErr = multierr.Append(s.closeErr, s.Pose.Close())
		}
		if s.Face != nil {
			s.closeErr = multierr.Append(s.closeErr, s.Face.Close())
		}
		if s.Hands != nil {
			s.closeErr = multierr.Append(s.closeErr, s.Hands.Close())
		}
	})
	return s.closeErr
}
