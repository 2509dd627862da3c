package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/mikeyg42/bodytrack/internal/storage"
)

// Artifacts lists a session's exports. Recorded metadata comes first, then
// uploads the metadata does not know about, then files still held in
// memory. Remote URLs are presigned again so they have not expired. The
// error collects sources that could not be read; the list holds whatever
// the others returned.
func (e *Exporter) Artifacts(ctx context.Context, sessionID string) ([]*storage.Artifact, error) {
	if !validName(sessionID) {
		return nil, fmt.Errorf("%w: session %q", ErrArtifactNotFound, sessionID)
	}

	var (
		out  []*storage.Artifact
		errs error
		seen = make(map[string]bool)
	)
	add := func(a *storage.Artifact) {
		if seen[a.Name] {
			return
		}
		seen[a.Name] = true
		out = append(out, a)
	}

	if e.metadata != nil {
		recorded, err := e.metadata.ListArtifacts(ctx, sessionID)
		errs = multierr.Append(errs, err)
		for _, a := range recorded {
			if a.Key != "" && e.objects != nil {
				url, err := e.presign(ctx, a.Key, a.Name)
				if err != nil {
					errs = multierr.Append(errs, err)
				} else {
					a.URL = url
				}
			}
			add(a)
		}
	}

	if e.objects != nil {
		prefix := e.sessionPrefix(sessionID)
		objects, err := e.objects.List(ctx, prefix)
		errs = multierr.Append(errs, err)
		for _, obj := range objects {
			rel := strings.TrimPrefix(obj.Key, prefix)
			name := ArtifactName(sessionID, path.Base(rel))
			if seen[name] {
				continue
			}
			url, err := e.presign(ctx, obj.Key, name)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			add(&storage.Artifact{
				ID:        obj.Key,
				SessionID: sessionID,
				Name:      name,
				Kind:      kindFor(rel),
				Key:       obj.Key,
				URL:       url,
				Size:      obj.Size,
				CreatedAt: obj.LastModified.UnixMilli(),
			})
		}
	}

	for _, a := range e.local.Session(sessionID) {
		add(&storage.Artifact{
			ID:        a.Name,
			SessionID: sessionID,
			Name:      a.Name,
			Kind:      kindFor(a.Name),
			URL:       e.local.URL(a.Name),
			Size:      int64(len(a.Data)),
			Local:     true,
			CreatedAt: a.Created.UnixMilli(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, errs
}

// OpenArtifact reads one of a session's files, e.g. "pose.csv" or
// "clips/<id>.mkv": from memory or the local mirror first, then from
// object storage. It returns the content and its type.
func (e *Exporter) OpenArtifact(ctx context.Context, sessionID, file string) (io.ReadCloser, string, error) {
	if !validName(sessionID) || !validFile(file) {
		return nil, "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, sessionID, file)
	}

	if !strings.Contains(file, "/") {
		if a, ok := e.local.Get(ArtifactName(sessionID, file)); ok {
			return io.NopCloser(bytes.NewReader(a.Data)), a.ContentType, nil
		}
	}
	if e.objects == nil {
		return nil, "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, sessionID, file)
	}

	rc, err := e.objects.Get(ctx, e.objectKey(sessionID, file))
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, sessionID, file)
		}
		return nil, "", err
	}
	return rc, storage.ContentTypeFor(file), nil
}

// validFile accepts relative slash-separated paths without dot segments.
func validFile(file string) bool {
	if file == "" {
		return false
	}
	for _, part := range strings.Split(file, "/") {
		if !validName(part) {
			return false
		}
	}
	return true
}

func kindFor(rel string) string {
	if strings.HasPrefix(rel, clipDir) {
		return storage.ArtifactClip
	}
	switch strings.ToLower(path.Ext(rel)) {
	case ".csv":
		return storage.ArtifactCSV
	case ".json":
		return storage.ArtifactMovement
	default:
		return storage.ArtifactVideo
	}
}
