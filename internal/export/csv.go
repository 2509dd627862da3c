// Package export turns a session's history into downloadable artifacts:
// CSV tables, a composed (or placeholder) video and uploaded snapshots.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/history"
)

// Schema selects a CSV layout.
type Schema string

const (
	SchemaPose     Schema = "pose"
	SchemaFace     Schema = "face"
	SchemaHands    Schema = "hands"
	SchemaCombined Schema = "combined"
)

// Schemas lists every layout in export order.
var Schemas = []Schema{SchemaPose, SchemaFace, SchemaHands, SchemaCombined}

// ParseSchema accepts a schema name.
func ParseSchema(name string) (Schema, error) {
	for _, s := range Schemas {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown csv schema %q", name)
}

// FileName is the artifact name for the schema.
func (s Schema) FileName() string {
	return string(s) + ".csv"
}

// Joints exported to the pose and combined tables, in column order.
var csvJoints = []analysis.BodyPoint{
	analysis.Head,
	analysis.LeftShoulder,
	analysis.RightShoulder,
	analysis.LeftHip,
	analysis.RightHip,
}

func jointColumns() []string {
	cols := make([]string, 0, len(csvJoints)*4)
	for _, j := range csvJoints {
		name := string(j)
		cols = append(cols, name+"X", name+"Y", name+"Z", name+"Confidence")
	}
	return cols
}

var (
	poseHeader  = append([]string{"Timestamp", "PoseConfidence"}, jointColumns()...)
	faceColumns = []string{"FaceConfidence", "MouthOpen", "EyeBlinkLeft", "EyeBlinkRight", "EyeLookLeft", "EyeLookRight"}
	faceHeader  = append(append([]string{"Timestamp"}, faceColumns...), "HeadX", "HeadY", "HeadZ")
	handsHeader = []string{"Timestamp", "Hand", "Gesture", "Confidence", "LandmarkCount"}

	combinedHeader = func() []string {
		h := append([]string{"Timestamp", "PoseConfidence"}, jointColumns()...)
		h = append(h, faceColumns...)
		h = append(h, "FaceHeadX", "FaceHeadY", "FaceHeadZ")
		return append(h, "LeftHandGesture", "LeftHandLandmarks", "RightHandGesture", "RightHandLandmarks")
	}()
)

// Header returns the column names for the schema.
func (s Schema) Header() []string {
	switch s {
	case SchemaPose:
		return append([]string(nil), poseHeader...)
	case SchemaFace:
		return append([]string(nil), faceHeader...)
	case SchemaHands:
		return append([]string(nil), handsHeader...)
	case SchemaCombined:
		return append([]string(nil), combinedHeader...)
	}
	return nil
}

// Build renders rec in the given schema.
func Build(schema Schema, rec *history.Recorder) ([]byte, error) {
	switch schema {
	case SchemaPose:
		return BuildPoseCSV(rec.Pose())
	case SchemaFace:
		return BuildFaceCSV(rec.Face())
	case SchemaHands:
		return BuildHandsCSV(rec.Hands())
	case SchemaCombined:
		return BuildCombinedCSV(rec.Join())
	}
	return nil, fmt.Errorf("unknown csv schema %q", schema)
}

// BuildPoseCSV writes one row per pose entry. Joints the frame lacked are
// written as zeros.
func BuildPoseCSV(entries []history.Entry[history.PoseSample]) ([]byte, error) {
	return writeCSV(poseHeader, func(w *csv.Writer) error {
		for _, e := range entries {
			row := []string{itoa64(e.Timestamp), strconv.Itoa(e.Data.Confidence)}
			row = append(row, jointFields(&e.Data.State)...)
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// BuildFaceCSV writes one row per face entry.
func BuildFaceCSV(entries []history.Entry[history.FaceSample]) ([]byte, error) {
	return writeCSV(faceHeader, func(w *csv.Writer) error {
		for _, e := range entries {
			row := append([]string{itoa64(e.Timestamp)}, faceFields(&e.Data)...)
			row = append(row, vecFields(e.Data.State.HeadPosition)...)
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// BuildHandsCSV writes one row per hand present at each timestamp, left
// before right.
func BuildHandsCSV(entries []history.Entry[history.HandsSample]) ([]byte, error) {
	return writeCSV(handsHeader, func(w *csv.Writer) error {
		for _, e := range entries {
			for _, h := range []*analysis.HandState{e.Data.Left, e.Data.Right} {
				if h == nil {
					continue
				}
				row := []string{
					itoa64(e.Timestamp),
					string(h.Handedness),
					string(h.Gesture),
					strconv.Itoa(analysis.HandConfidence(h)),
					strconv.Itoa(len(h.Landmarks)),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// BuildCombinedCSV writes the joined rows. Sub-tables missing at a
// timestamp are zero filled; absent hands leave the gesture empty.
func BuildCombinedCSV(rows []history.Row) ([]byte, error) {
	return writeCSV(combinedHeader, func(w *csv.Writer) error {
		for _, r := range rows {
			row := make([]string, 0, len(combinedHeader))
			row = append(row, itoa64(r.Timestamp))

			if r.Pose != nil {
				row = append(row, strconv.Itoa(r.Pose.Confidence))
				row = append(row, jointFields(&r.Pose.State)...)
			} else {
				row = append(row, "0")
				row = append(row, jointFields(nil)...)
			}

			if r.Face != nil {
				row = append(row, faceFields(r.Face)...)
				row = append(row, vecFields(r.Face.State.HeadPosition)...)
			} else {
				row = append(row, faceFields(nil)...)
				row = append(row, vecFields(analysis.Vec3{})...)
			}

			var left, right *analysis.HandState
			if r.Hands != nil {
				left, right = r.Hands.Left, r.Hands.Right
			}
			row = append(row, handFields(left)...)
			row = append(row, handFields(right)...)

			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(header []string, rows func(*csv.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := rows(w); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jointFields(state *analysis.PoseState) []string {
	out := make([]string, 0, len(csvJoints)*4)
	for _, name := range csvJoints {
		var j analysis.Joint
		if state != nil {
			j, _ = state.Joint(name)
		}
		out = append(out, vecFields(j.Position)...)
		out = append(out, ftoa(j.Confidence))
	}
	return out
}

func faceFields(s *history.FaceSample) []string {
	if s == nil {
		return []string{"0", "0", "0", "0", "0", "0"}
	}
	return []string{
		strconv.Itoa(s.Confidence),
		strconv.Itoa(s.State.MouthOpenness),
		strconv.Itoa(s.State.EyeBlinkLeft),
		strconv.Itoa(s.State.EyeBlinkRight),
		ftoa(s.State.EyeGazeLeft),
		ftoa(s.State.EyeGazeRight),
	}
}

func handFields(h *analysis.HandState) []string {
	if h == nil {
		return []string{"", "0"}
	}
	return []string{string(h.Gesture), strconv.Itoa(len(h.Landmarks))}
}

func vecFields(v analysis.Vec3) []string {
	return []string{ftoa(v.X), ftoa(v.Y), ftoa(v.Z)}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
