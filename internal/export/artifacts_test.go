package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikeyg42/bodytrack/internal/storage"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	signed  int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ ...storage.PutOption) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memObjects) PutFile(ctx context.Context, key, filePath string, opts ...storage.PutOption) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return m.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts...)
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, &storage.StorageError{Op: "get", Key: key, Err: errors.New("no such key"), StatusCode: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) GeneratePresignedURL(_ context.Context, key string, _ time.Duration, _ ...storage.URLOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signed++
	return fmt.Sprintf("https://objects.test/%s?sig=%d", key, m.signed), nil
}

func (m *memObjects) HealthCheck(context.Context) error { return nil }

type memMetadata struct {
	mu        sync.Mutex
	artifacts []*storage.Artifact
	listErr   error
}

func (m *memMetadata) SaveSession(context.Context, *storage.Session) error   { return nil }
func (m *memMetadata) FinishSession(context.Context, *storage.Session) error { return nil }
func (m *memMetadata) SaveMovement(context.Context, *storage.Movement) error { return nil }
func (m *memMetadata) SaveArtifact(_ context.Context, a *storage.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts = append(m.artifacts, &cp)
	return nil
}
func (m *memMetadata) ListArtifacts(_ context.Context, sessionID string) ([]*storage.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*storage.Artifact
	for _, a := range m.artifacts {
		if a.SessionID == sessionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (m *memMetadata) Now(context.Context) (time.Time, error) { return time.Now(), nil }
func (m *memMetadata) HealthCheck(context.Context) error      { return nil }
func (m *memMetadata) Close() error                           { return nil }

func findArtifact(list []*storage.Artifact, name string) *storage.Artifact {
	for _, a := range list {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func TestArtifactsMergesSources(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	metadata := &memMetadata{}
	exp := New(Config{}, objects, metadata, nil, nil, nil)

	if _, err := exp.ExportSession(ctx, sampleHistory(), testMeta(), nil); err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	recorded := metadata.artifacts[0]
	if err := objects.Put(ctx, "sessions/s1/clips/m1.mkv", strings.NewReader("clip"), 4); err != nil {
		t.Fatal(err)
	}

	list, err := exp.Artifacts(ctx, "s1")
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	// four CSVs and the summary uploaded, the placeholder video kept
	// locally, and the clip only found in the bucket
	if len(list) != 7 {
		names := make([]string, len(list))
		for i, a := range list {
			names[i] = a.Name
		}
		t.Fatalf("got %d artifacts: %v", len(list), names)
	}

	got := findArtifact(list, recorded.Name)
	if got == nil || got.ID != recorded.ID {
		t.Fatalf("recorded artifact %q missing or replaced: %+v", recorded.Name, got)
	}
	if got.URL == recorded.URL {
		t.Fatalf("remote URL not presigned again: %q", got.URL)
	}

	clip := findArtifact(list, "s1-m1.mkv")
	if clip == nil || clip.Kind != storage.ArtifactClip || clip.Key != "sessions/s1/clips/m1.mkv" {
		t.Fatalf("clip = %+v", clip)
	}
	if v := findArtifact(list, "s1-video.webm"); v == nil || !v.Local {
		t.Fatalf("placeholder = %+v", v)
	}
}

func TestArtifactsWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	metadata := &memMetadata{listErr: errors.New("db down")}
	exp := New(Config{}, objects, metadata, nil, nil, nil)

	if err := objects.Put(ctx, "sessions/s2/pose.csv", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := exp.Local().Put("s2", "s2-video.webm", "video/webm", nil); err != nil {
		t.Fatal(err)
	}

	list, err := exp.Artifacts(ctx, "s2")
	if err == nil {
		t.Fatal("metadata failure not reported")
	}
	if len(list) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(list))
	}
	if a := findArtifact(list, "s2-pose.csv"); a == nil || a.Kind != storage.ArtifactCSV || a.Local {
		t.Fatalf("pose = %+v", a)
	}
}

func TestOpenArtifact(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	exp := New(Config{}, objects, nil, nil, nil, nil)

	if _, err := exp.Local().Put("s1", "s1-pose.csv", "text/csv", []byte("local")); err != nil {
		t.Fatal(err)
	}
	if err := objects.Put(ctx, "sessions/s1/clips/m1.mkv", strings.NewReader("remote"), 6); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		session  string
		file     string
		want     string
		wantType string
		wantErr  error
	}{
		{"local copy", "s1", "pose.csv", "local", "text/csv", nil},
		{"object storage", "s1", "clips/m1.mkv", "remote", "video/x-matroska", nil},
		{"missing", "s1", "face.csv", "", "", ErrArtifactNotFound},
		{"dot segment", "s1", "../s2/pose.csv", "", "", ErrArtifactNotFound},
		{"bad session", "..", "pose.csv", "", "", ErrArtifactNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, contentType, err := exp.OpenArtifact(ctx, tt.session, tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenArtifact: %v", err)
			}
			defer rc.Close()
			data, _ := io.ReadAll(rc)
			if string(data) != tt.want || contentType != tt.wantType {
				t.Fatalf("got %q (%s), want %q (%s)", data, contentType, tt.want, tt.wantType)
			}
		})
	}
}
