package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "meta", "bodytrack.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	s := &Session{ID: "s1", UserID: "u1", MovementType: "squat", StartedAt: 1000}
	if err := store.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if s.Status != SessionActive {
		t.Fatalf("status = %q, want %q", s.Status, SessionActive)
	}

	s.VideoURL = "https://example.test/v.mp4"
	s.Samples = 42
	if err := store.FinishSession(ctx, s); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if s.Status != SessionCompleted || s.EndedAt == 0 {
		t.Fatalf("finished session = %+v", s)
	}

	var got Session
	if err := store.db.GetContext(ctx, &got, "SELECT * FROM sessions WHERE id = ?", "s1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Status != SessionCompleted || got.VideoURL != s.VideoURL || got.Samples != 42 {
		t.Fatalf("stored session = %+v", got)
	}
}

func TestSQLiteStoreArtifacts(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	artifacts := []*Artifact{
		{ID: "a2", SessionID: "s1", Name: "pose.csv", Kind: ArtifactCSV, URL: "/api/artifacts/pose.csv", Size: 10, Local: true, CreatedAt: 2},
		{ID: "a1", SessionID: "s1", Name: "video.mp4", Kind: ArtifactVideo, URL: "https://example.test/v.mp4", CreatedAt: 1},
		{ID: "a3", SessionID: "other", Name: "x", Kind: ArtifactCSV, URL: "x", CreatedAt: 3},
	}
	for _, a := range artifacts {
		if err := store.SaveArtifact(ctx, a); err != nil {
			t.Fatalf("SaveArtifact(%s): %v", a.ID, err)
		}
	}

	got, err := store.ListArtifacts(ctx, "s1")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if !got[1].Local || got[1].Size != 10 {
		t.Fatalf("artifact = %+v", got[1])
	}
}

func TestSQLiteStoreMovementAndClock(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	m := &Movement{ID: "m1", SessionID: "s1", Label: "17/10/2026-u1-squat", MovementType: "squat", Timestamp: 5, ImageCount: 3}
	if err := store.SaveMovement(ctx, m); err != nil {
		t.Fatalf("SaveMovement: %v", err)
	}
	m.Uploaded = true
	if err := store.SaveMovement(ctx, m); err != nil {
		t.Fatalf("SaveMovement update: %v", err)
	}

	before := time.Now()
	now, err := store.Now(ctx)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if now.Before(before.Add(-time.Second)) {
		t.Fatalf("Now = %v, before %v", now, before)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

type failingStore struct {
	MetadataStore
	calls int
}

var errDown = errors.New("backend down")

func (f *failingStore) SaveSession(context.Context, *Session) error { f.calls++; return errDown }
func (f *failingStore) SaveArtifact(context.Context, *Artifact) error {
	f.calls++
	return errDown
}
func (f *failingStore) ListArtifacts(context.Context, string) ([]*Artifact, error) {
	return nil, errDown
}
func (f *failingStore) Now(context.Context) (time.Time, error) { return time.Time{}, errDown }
func (f *failingStore) HealthCheck(context.Context) error     { return errDown }
func (f *failingStore) Close() error                          { return nil }

func TestFallbackStore(t *testing.T) {
	ctx := context.Background()
	local := newTestSQLite(t)
	primary := &failingStore{}
	store := NewFallbackStore(primary, local)

	if err := store.SaveSession(ctx, &Session{ID: "s1", UserID: "u", MovementType: "m", StartedAt: 1}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.SaveArtifact(ctx, &Artifact{ID: "a1", SessionID: "s1", Name: "pose.csv", Kind: ArtifactCSV, URL: "u"}); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if primary.calls != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.calls)
	}

	got, err := store.ListArtifacts(ctx, "s1")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("artifacts = %+v", got)
	}
	if _, err := store.Now(ctx); err != nil {
		t.Fatalf("Now: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"sessions/s1/pose.csv", "text/csv"},
		{"sessions/s1/movement.JSON", "application/json"},
		{"frame.jpeg", "image/jpeg"},
		{"clip-1.webm", "video/webm"},
		{"blob", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentTypeFor(tt.name); got != tt.want {
				t.Fatalf("ContentTypeFor(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	err := &StorageError{Op: "get", Key: "k", Err: errDown, StatusCode: 404}
	if !IsNotExist(err) {
		t.Fatal("IsNotExist = false for 404")
	}
	if !errors.Is(err, errDown) {
		t.Fatal("StorageError does not unwrap")
	}
	if got := err.Error(); got != "get k: backend down" {
		t.Fatalf("Error() = %q", got)
	}
	if IsNotExist(errDown) {
		t.Fatal("IsNotExist = true for plain error")
	}
}

func TestPutOptions(t *testing.T) {
	opts := &putOptions{}
	for _, o := range []PutOption{
		WithContentType("text/csv"),
		WithMetadata(map[string]string{"session-id": "s1"}),
		WithCacheControl("private, max-age=60"),
	} {
		o.applyPut(opts)
	}
	if opts.ContentType != "text/csv" || opts.Metadata["session-id"] != "s1" || opts.CacheControl != "private, max-age=60" {
		t.Fatalf("options = %+v", opts)
	}
}
