package export

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/capture"
	"github.com/mikeyg42/bodytrack/internal/history"
	"github.com/mikeyg42/bodytrack/internal/recording"
	"github.com/mikeyg42/bodytrack/internal/storage"
)

const (
	clipDir = "clips/"

	// Uploaded artifacts never change once written.
	artifactCacheControl = "private, max-age=86400, immutable"
)

// ErrArtifactNotFound is returned by OpenArtifact when no copy exists.
var ErrArtifactNotFound = errors.New("export: artifact not found")

// Config controls where exports go.
type Config struct {
	// ObjectPrefix is the key prefix for uploads, e.g. "sessions".
	ObjectPrefix string
	// URLExpiry is the lifetime of presigned download URLs.
	URLExpiry time.Duration
}

// Result describes a finished export. VideoURL is always set.
type Result struct {
	SessionID   string              `json:"sessionId"`
	VideoURL    string              `json:"videoUrl"`
	Placeholder bool                `json:"placeholder"`
	Artifacts   []*storage.Artifact `json:"artifacts"`
}

// Exporter writes session artifacts. Objects, Composer and Flusher are
// optional; without them everything is retained locally.
type Exporter struct {
	config   Config
	objects  storage.ObjectStore
	metadata storage.MetadataStore
	composer *Composer
	flusher  *ImageFlusher
	local    *LocalArtifacts
	logger   *zap.Logger
}

// New creates an exporter. objects, composer and flusher may be nil.
func New(config Config, objects storage.ObjectStore, metadata storage.MetadataStore,
	composer *Composer, flusher *ImageFlusher, local *LocalArtifacts) *Exporter {
	if config.ObjectPrefix == "" {
		config.ObjectPrefix = "sessions"
	}
	if config.URLExpiry == 0 {
		config.URLExpiry = 24 * time.Hour
	}
	if local == nil {
		local = NewLocalArtifacts("", 0, 0)
	}
	return &Exporter{
		config:   config,
		objects:  objects,
		metadata: metadata,
		composer: composer,
		flusher:  flusher,
		local:    local,
		logger:   zap.L().Named("exporter"),
	}
}

// Local returns the retained artifact store.
func (e *Exporter) Local() *LocalArtifacts {
	return e.local
}

type sessionSummary struct {
	SessionMeta
	EndedAt  time.Time      `json:"endedAt"`
	Samples  map[string]int `json:"samples"`
	Rejected int            `json:"rejected"`
	Clips    []string       `json:"clips"`
}

// ExportSession writes the four CSVs, a JSON summary and any recorded clips,
// then obtains a video: composed remotely when the composer is healthy,
// otherwise a local placeholder. The returned error collects failures that
// did not prevent a result; the Result is always usable.
func (e *Exporter) ExportSession(ctx context.Context, rec *history.Recorder, meta SessionMeta, clips []recording.Clip) (Result, error) {
	res := Result{SessionID: meta.SessionID}
	var errs error

	var combined []byte
	for _, schema := range Schemas {
		data, err := Build(schema, rec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if schema == SchemaCombined {
			combined = data
		}
		a, err := e.store(ctx, meta, schema.FileName(), "text/csv", storage.ArtifactCSV, data)
		errs = multierr.Append(errs, err)
		if a != nil {
			res.Artifacts = append(res.Artifacts, a)
		}
	}

	summary := sessionSummary{
		SessionMeta: meta,
		EndedAt:     time.Now(),
		Rejected:    rec.Rejected(),
	}
	pose, face, hands := rec.Lens()
	summary.Samples = map[string]int{"pose": pose, "face": face, "hands": hands}
	for _, c := range clips {
		summary.Clips = append(summary.Clips, c.ID)
	}
	if data, err := json.Marshal(summary); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		a, err := e.store(ctx, meta, "summary.json", "application/json", storage.ArtifactMovement, data)
		errs = multierr.Append(errs, err)
		if a != nil {
			res.Artifacts = append(res.Artifacts, a)
		}
	}

	for _, c := range clips {
		a, err := e.storeClip(ctx, meta, c)
		errs = multierr.Append(errs, err)
		if a != nil {
			res.Artifacts = append(res.Artifacts, a)
		}
	}

	video, err := e.composeRemote(ctx, combined, meta)
	if err != nil {
		e.logger.Warn("Remote composition unavailable, using local placeholder",
			zap.String("session", meta.SessionID), zap.Error(err))
		video, err = e.composeLocal(meta)
		if err != nil {
			return res, multierr.Append(errs, err)
		}
		res.Placeholder = true
	}
	res.VideoURL = video.URL
	res.Artifacts = append(res.Artifacts, video)

	if e.metadata != nil {
		for _, a := range res.Artifacts {
			errs = multierr.Append(errs, e.metadata.SaveArtifact(ctx, a))
		}
		errs = multierr.Append(errs, e.metadata.FinishSession(ctx, &storage.Session{
			ID:           meta.SessionID,
			UserID:       meta.UserID,
			MovementType: meta.MovementType,
			StartedAt:    meta.StartedAt.UnixMilli(),
			EndedAt:      summary.EndedAt.UnixMilli(),
			VideoURL:     res.VideoURL,
			Samples:      pose + face + hands,
		}))
	}

	e.logger.Info("Session exported",
		zap.String("session", meta.SessionID),
		zap.String("video_url", res.VideoURL),
		zap.Bool("placeholder", res.Placeholder),
		zap.Int("artifacts", len(res.Artifacts)))
	return res, errs
}

// composeRemote probes the composer, then asks it for a video.
func (e *Exporter) composeRemote(ctx context.Context, csv []byte, meta SessionMeta) (*storage.Artifact, error) {
	if err := e.composer.Health(ctx); err != nil {
		return nil, err
	}
	url, err := e.composer.Compose(ctx, csv, meta)
	if err != nil {
		return nil, err
	}
	return e.artifact(meta, meta.artifactName("video"), storage.ArtifactVideo, "", url, 0, false), nil
}

// composeLocal retains an empty placeholder video next to the CSVs.
func (e *Exporter) composeLocal(meta SessionMeta) (*storage.Artifact, error) {
	name := meta.artifactName("video.webm")
	url, err := e.local.Put(meta.SessionID, name, "video/webm", []byte{})
	if err != nil {
		return nil, err
	}
	return e.artifact(meta, name, storage.ArtifactPlaceholder, "", url, 0, true), nil
}

// store retains data locally and, when an object store is configured,
// uploads it. The artifact points at the upload when that succeeded.
func (e *Exporter) store(ctx context.Context, meta SessionMeta, file, contentType, kind string, data []byte) (*storage.Artifact, error) {
	name := meta.artifactName(file)
	url, err := e.local.Put(meta.SessionID, name, contentType, data)
	if err != nil {
		return nil, err
	}
	local := e.artifact(meta, name, kind, "", url, int64(len(data)), true)
	if e.objects == nil {
		return local, nil
	}

	key := e.objectKey(meta.SessionID, file)
	err = storage.PutBytes(ctx, e.objects, key, data,
		storage.WithContentType(contentType),
		storage.WithMetadata(meta.objectMetadata()),
		storage.WithCacheControl(artifactCacheControl))
	if err != nil {
		e.logger.Warn("Upload failed, artifact kept locally", zap.String("key", key), zap.Error(err))
		return local, err
	}
	remoteURL, err := e.presign(ctx, key, name)
	if err != nil {
		return local, err
	}
	return e.artifact(meta, name, kind, key, remoteURL, int64(len(data)), false), nil
}

func (e *Exporter) presign(ctx context.Context, key, name string) (string, error) {
	return e.objects.GeneratePresignedURL(ctx, key, e.config.URLExpiry,
		storage.WithContentDisposition(`attachment; filename="`+name+`"`))
}

func (e *Exporter) storeClip(ctx context.Context, meta SessionMeta, clip recording.Clip) (*storage.Artifact, error) {
	if e.objects == nil {
		return nil, nil
	}
	file := filepath.Base(clip.Path)
	key := e.objectKey(meta.SessionID, clipDir+file)
	if err := e.objects.PutFile(ctx, key, clip.Path, storage.WithMetadata(meta.objectMetadata())); err != nil {
		return nil, err
	}
	name := meta.artifactName(file)
	url, err := e.presign(ctx, key, name)
	if err != nil {
		return nil, err
	}
	return e.artifact(meta, name, storage.ArtifactClip, key, url, clip.Size, false), nil
}

func (e *Exporter) objectKey(sessionID, file string) string {
	return e.sessionPrefix(sessionID) + file
}

func (e *Exporter) sessionPrefix(sessionID string) string {
	return e.config.ObjectPrefix + "/" + sessionID + "/"
}

func (e *Exporter) artifact(meta SessionMeta, name, kind, key, url string, size int64, local bool) *storage.Artifact {
	return &storage.Artifact{
		ID:        uuid.NewString(),
		SessionID: meta.SessionID,
		Name:      name,
		Kind:      kind,
		Key:       key,
		URL:       url,
		Size:      size,
		Local:     local,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// FlushImages drains ring and uploads the snapshots. On failure the images
// go back into the ring, whose capacity bounds the backlog. live is checked
// once the upload returns; when it reports false the session has moved on
// and the outcome is discarded.
func (e *Exporter) FlushImages(ctx context.Context, ring *capture.Ring, meta SessionMeta, live func() bool) (int, error) {
	if !e.flusher.Enabled() {
		return 0, nil
	}
	images := ring.Drain()
	if len(images) == 0 {
		return 0, nil
	}

	now := time.Now()
	err := e.flusher.Flush(ctx, images, meta, now)
	if live != nil && !live() {
		e.logger.Debug("Dropping stale flush result", zap.String("session", meta.SessionID))
		return 0, nil
	}
	if err != nil {
		ring.Requeue(images)
		var serr *StatusError
		if errors.As(err, &serr) && (serr.StatusCode == 401 || serr.StatusCode == 403) {
			e.logger.Warn("Snapshot upload rejected, keeping images", zap.Int("status", serr.StatusCode))
		}
		return 0, err
	}

	if e.metadata != nil {
		m := &storage.Movement{
			ID:           uuid.NewString(),
			SessionID:    meta.SessionID,
			Label:        meta.Label(now),
			MovementType: meta.MovementType,
			Timestamp:    now.UnixMilli(),
			ImageCount:   len(images),
			Uploaded:     true,
		}
		if err := e.metadata.SaveMovement(ctx, m); err != nil {
			e.logger.Warn("Failed to record movement", zap.Error(err))
		}
	}
	return len(images), nil
}
