package analysis

// Thresholds holds every tunable constant used by the analyzer. The defaults
// were tuned by eye against MediaPipe output; they are not biometric truths.
type Thresholds struct {
	// Pose landmark indices averaged for the overall pose confidence.
	PoseKeyIndices []int `toml:"pose_key_indices"`

	FaceMinLandmarks int     `toml:"face_min_landmarks"`
	MouthUpperIndex  int     `toml:"mouth_upper_index"`
	MouthLowerIndex  int     `toml:"mouth_lower_index"`
	MouthScale       float64 `toml:"mouth_scale"`
	BlinkLeftStart   int     `toml:"blink_left_start"`
	BlinkRightStart  int     `toml:"blink_right_start"`
	BlinkWindow      int     `toml:"blink_window"`
	BlinkScale       float64 `toml:"blink_scale"`
	GazeLeftIndex    int     `toml:"gaze_left_index"`
	GazeRightIndex   int     `toml:"gaze_right_index"`
	GazeScale        float64 `toml:"gaze_scale"`

	FistBand        float64 `toml:"fist_band"`
	FingerMargin    float64 `toml:"finger_margin"`
	OKDistance      float64 `toml:"ok_distance"`
	OpenHandMinTips int     `toml:"open_hand_min_tips"`

	PostureLeanAngle     float64 `toml:"posture_lean_angle"`
	PostureStraightAngle float64 `toml:"posture_straight_angle"`
	MouthOpenExpression  int     `toml:"mouth_open_expression"`
	BlinkExpression      int     `toml:"blink_expression"`

	WeightPose  float64 `toml:"weight_pose"`
	WeightFace  float64 `toml:"weight_face"`
	WeightHands float64 `toml:"weight_hands"`
}

// DefaultThresholds returns the stock constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PoseKeyIndices: []int{0, 11, 12, 15, 16},

		FaceMinLandmarks: 70,
		MouthUpperIndex:  61,
		MouthLowerIndex:  67,
		MouthScale:       2000,
		BlinkLeftStart:   159,
		BlinkRightStart:  386,
		BlinkWindow:      10,
		BlinkScale:       1000,
		GazeLeftIndex:    473,
		GazeRightIndex:   468,
		GazeScale:        200,

		FistBand:        0.1,
		FingerMargin:    0.05,
		OKDistance:      0.1,
		OpenHandMinTips: 4,

		PostureLeanAngle:     0.2,
		PostureStraightAngle: 0.05,
		MouthOpenExpression:  20,
		BlinkExpression:      30,

		WeightPose:  0.5,
		WeightFace:  0.3,
		WeightHands: 0.2,
	}
}
