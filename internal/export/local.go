package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mikeyg42/bodytrack/internal/storage"
)

// DefaultArtifactURLPrefix is where the API serves retained artifacts.
const DefaultArtifactURLPrefix = "/api/artifacts/"

// DefaultKeepSessions is how many sessions' artifacts stay in memory.
const DefaultKeepSessions = 8

// LocalArtifact is a file kept in process for manual download.
type LocalArtifact struct {
	SessionID   string
	Name        string
	ContentType string
	Data        []byte
	Created     time.Time
}

// LocalArtifacts retains the artifacts of the most recent sessions in memory
// and optionally mirrors them to a directory. Older sessions are evicted
// from memory but remain readable from the mirror. Mirroring is skipped
// when the directory's filesystem has less than MinFreeBytes available.
type LocalArtifacts struct {
	dir          string
	minFreeBytes uint64
	keepSessions int
	urlPrefix    string
	logger       *zap.Logger

	mu       sync.RWMutex
	items    map[string]LocalArtifact
	sessions []string // oldest first
}

// NewLocalArtifacts creates the store. An empty dir keeps artifacts in
// memory only. keepSessions <= 0 means DefaultKeepSessions.
func NewLocalArtifacts(dir string, minFreeBytes uint64, keepSessions int) *LocalArtifacts {
	if keepSessions <= 0 {
		keepSessions = DefaultKeepSessions
	}
	return &LocalArtifacts{
		dir:          dir,
		minFreeBytes: minFreeBytes,
		keepSessions: keepSessions,
		urlPrefix:    DefaultArtifactURLPrefix,
		logger:       zap.L().Named("local-artifacts"),
		items:        make(map[string]LocalArtifact),
	}
}

// Put retains data under name for sessionID, replacing any previous
// artifact of that name, and returns its download URL.
func (l *LocalArtifacts) Put(sessionID, name, contentType string, data []byte) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	l.mu.Lock()
	l.touch(sessionID)
	l.items[name] = LocalArtifact{
		SessionID:   sessionID,
		Name:        name,
		ContentType: contentType,
		Data:        data,
		Created:     time.Now(),
	}
	l.mu.Unlock()

	if l.dir != "" {
		if err := l.mirror(name, data); err != nil {
			l.logger.Warn("Artifact kept in memory only", zap.String("name", name), zap.Error(err))
		}
	}
	return l.URL(name), nil
}

// touch registers sessionID and evicts the oldest sessions beyond the limit.
// Callers hold mu.
func (l *LocalArtifacts) touch(sessionID string) {
	for _, id := range l.sessions {
		if id == sessionID {
			return
		}
	}
	l.sessions = append(l.sessions, sessionID)
	for len(l.sessions) > l.keepSessions {
		evicted := l.sessions[0]
		l.sessions = l.sessions[1:]
		for name, a := range l.items {
			if a.SessionID == evicted {
				delete(l.items, name)
			}
		}
		l.logger.Debug("Evicted session artifacts from memory", zap.String("session", evicted))
	}
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func (l *LocalArtifacts) mirror(name string, data []byte) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	free, err := FreeSpace(l.dir)
	if err != nil {
		return err
	}
	if free < l.minFreeBytes+uint64(len(data)) {
		return fmt.Errorf("insufficient disk space: %d bytes free", free)
	}
	return os.WriteFile(filepath.Join(l.dir, name), data, 0o644)
}

// Get returns a retained artifact, reading it back from the mirror when it
// has been evicted from memory.
func (l *LocalArtifacts) Get(name string) (LocalArtifact, bool) {
	l.mu.RLock()
	a, ok := l.items[name]
	l.mu.RUnlock()
	if ok || l.dir == "" || !validName(name) {
		return a, ok
	}

	path := filepath.Join(l.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return LocalArtifact{}, false
	}
	a = LocalArtifact{Name: name, ContentType: storage.ContentTypeFor(name), Data: data}
	if info, err := os.Stat(path); err == nil {
		a.Created = info.ModTime()
	}
	return a, true
}

// Names lists the artifacts held in memory in name order.
func (l *LocalArtifacts) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.items))
	for name := range l.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session returns the in-memory artifacts of one session in name order.
func (l *LocalArtifacts) Session(sessionID string) []LocalArtifact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []LocalArtifact
	for _, a := range l.items {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// URL is the download path for name.
func (l *LocalArtifacts) URL(name string) string {
	return l.urlPrefix + name
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
