package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mikeyg42/bodytrack/internal/analysis"
)

func TestWriteImageReport(t *testing.T) {
	withPose := analysis.Empty()
	withPose.IsAnalyzing = true
	withPose.Pose = &analysis.PoseState{analysis.Head: {Position: analysis.Vec3{X: 0.5, Y: 0.25}, Confidence: 0.9}}
	withPose.PoseConfidence = 90

	tests := []struct {
		name     string
		result   analysis.BodyAnalysis
		wantRows int
	}{
		{"pose detected", withPose, 1},
		{"nothing detected", analysis.Empty(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeImageReport(&buf, tt.result); err != nil {
				t.Fatalf("writeImageReport: %v", err)
			}
			out := buf.String()

			i := strings.Index(out, "Timestamp,PoseConfidence")
			if i < 0 {
				t.Fatalf("no CSV header in output:\n%s", out)
			}
			var decoded analysis.BodyAnalysis
			if err := json.Unmarshal([]byte(out[:i]), &decoded); err != nil {
				t.Fatalf("JSON part: %v", err)
			}
			if decoded.PoseConfidence != tt.result.PoseConfidence {
				t.Fatalf("pose confidence = %d, want %d", decoded.PoseConfidence, tt.result.PoseConfidence)
			}

			rows, err := csv.NewReader(strings.NewReader(out[i:])).ReadAll()
			if err != nil {
				t.Fatalf("CSV part: %v", err)
			}
			if len(rows)-1 != tt.wantRows {
				t.Fatalf("got %d CSV rows, want %d", len(rows)-1, tt.wantRows)
			}
			if tt.wantRows == 1 && (rows[1][0] != "0" || rows[1][1] != "90") {
				t.Fatalf("row = %v", rows[1][:2])
			}
		})
	}
}
