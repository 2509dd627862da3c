package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	movement_type TEXT NOT NULL,
	started_at BIGINT NOT NULL,
	ended_at BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	video_url TEXT NOT NULL DEFAULT '',
	samples INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS movements (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	label TEXT NOT NULL,
	movement_type TEXT NOT NULL,
	ts BIGINT NOT NULL,
	image_count INTEGER NOT NULL,
	uploaded BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	object_key TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	is_local BOOLEAN NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_movements_session_id ON movements(session_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_session_id ON artifacts(session_id);
`

// sqlStore is the MetadataStore shared by the Postgres and SQLite backends.
// Queries use named or '?' parameters and are rebound for the driver.
type sqlStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	// nowQuery reads the database clock. Empty means the local clock.
	nowQuery string
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqlStore) SaveSession(ctx context.Context, session *Session) error {
	if session.Status == "" {
		session.Status = SessionActive
	}
	query := `
		INSERT INTO sessions (id, user_id, movement_type, started_at, ended_at, status, video_url, samples)
		VALUES (:id, :user_id, :movement_type, :started_at, :ended_at, :status, :video_url, :samples)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			status = excluded.status,
			video_url = excluded.video_url,
			samples = excluded.samples
	`
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.logger.Debug("Session saved", zap.String("id", session.ID), zap.String("status", session.Status))
	return nil
}

func (s *sqlStore) FinishSession(ctx context.Context, session *Session) error {
	if session.Status == "" || session.Status == SessionActive {
		session.Status = SessionCompleted
	}
	if session.EndedAt == 0 {
		session.EndedAt = time.Now().UnixMilli()
	}
	return s.SaveSession(ctx, session)
}

func (s *sqlStore) SaveMovement(ctx context.Context, movement *Movement) error {
	query := `
		INSERT INTO movements (id, session_id, label, movement_type, ts, image_count, uploaded)
		VALUES (:id, :session_id, :label, :movement_type, :ts, :image_count, :uploaded)
		ON CONFLICT (id) DO UPDATE SET
			image_count = excluded.image_count,
			uploaded = excluded.uploaded
	`
	if _, err := s.db.NamedExecContext(ctx, query, movement); err != nil {
		return fmt.Errorf("failed to save movement: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact.CreatedAt == 0 {
		artifact.CreatedAt = time.Now().UnixMilli()
	}
	query := `
		INSERT INTO artifacts (id, session_id, name, kind, object_key, url, size_bytes, is_local, created_at)
		VALUES (:id, :session_id, :name, :kind, :object_key, :url, :size_bytes, :is_local, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			size_bytes = excluded.size_bytes,
			is_local = excluded.is_local
	`
	if _, err := s.db.NamedExecContext(ctx, query, artifact); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *sqlStore) ListArtifacts(ctx context.Context, sessionID string) ([]*Artifact, error) {
	query := s.db.Rebind(`
		SELECT id, session_id, name, kind, object_key, url, size_bytes, is_local, created_at
		FROM artifacts
		WHERE session_id = ?
		ORDER BY created_at, name
	`)
	var artifacts []*Artifact
	if err := s.db.SelectContext(ctx, &artifacts, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

func (s *sqlStore) Now(ctx context.Context) (time.Time, error) {
	if s.nowQuery == "" {
		return time.Now(), nil
	}
	var now time.Time
	if err := s.db.GetContext(ctx, &now, s.nowQuery); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database clock: %w", err)
	}
	return now, nil
}

func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
