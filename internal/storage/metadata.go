package storage

import (
	"context"
	"time"
)

// Session status values.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Artifact kinds.
const (
	ArtifactCSV         = "csv"
	ArtifactVideo       = "video"
	ArtifactPlaceholder = "placeholder"
	ArtifactMovement    = "movement"
	ArtifactClip        = "clip"
)

// Session is one tracking session. Times are unix milliseconds; EndedAt is
// zero while the session is still running.
type Session struct {
	ID           string `db:"id" json:"id"`
	UserID       string `db:"user_id" json:"userId"`
	MovementType string `db:"movement_type" json:"movementType"`
	StartedAt    int64  `db:"started_at" json:"startedAt"`
	EndedAt      int64  `db:"ended_at" json:"endedAt"`
	Status       string `db:"status" json:"status"`
	VideoURL     string `db:"video_url" json:"videoUrl"`
	Samples      int    `db:"samples" json:"samples"`
}

// Movement is one flushed batch of captured images.
type Movement struct {
	ID           string `db:"id" json:"id"`
	SessionID    string `db:"session_id" json:"sessionId"`
	Label        string `db:"label" json:"label"`
	MovementType string `db:"movement_type" json:"movementType"`
	Timestamp    int64  `db:"ts" json:"timestamp"`
	ImageCount   int    `db:"image_count" json:"imageCount"`
	Uploaded     bool   `db:"uploaded" json:"uploaded"`
}

// Artifact is an exported file, stored remotely (Key/URL) or retained
// in-process (Local).
type Artifact struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"sessionId"`
	Name      string `db:"name" json:"name"`
	Kind      string `db:"kind" json:"kind"`
	Key       string `db:"object_key" json:"key,omitempty"`
	URL       string `db:"url" json:"url"`
	Size      int64  `db:"size_bytes" json:"size"`
	Local     bool   `db:"is_local" json:"local"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
}

// MetadataStore records sessions, movements and artifacts.
type MetadataStore interface {
	SaveSession(ctx context.Context, session *Session) error
	FinishSession(ctx context.Context, session *Session) error
	SaveMovement(ctx context.Context, movement *Movement) error
	SaveArtifact(ctx context.Context, artifact *Artifact) error
	ListArtifacts(ctx context.Context, sessionID string) ([]*Artifact, error)

	// Now returns the store's clock. Pause/resume baselines are taken from
	// it so elapsed time survives local clock changes.
	Now(ctx context.Context) (time.Time, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
