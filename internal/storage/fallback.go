package storage

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FallbackStore writes to a primary MetadataStore and, when the primary
// fails, to a local one, so a session's bookkeeping is never lost because
// the backend is down.
type FallbackStore struct {
	primary MetadataStore
	local   MetadataStore
	logger  *zap.Logger
}

// NewFallbackStore wraps primary with local. A nil primary makes every call
// go to local.
func NewFallbackStore(primary, local MetadataStore) *FallbackStore {
	return &FallbackStore{
		primary: primary,
		local:   local,
		logger:  zap.L().Named("metadata"),
	}
}

func (f *FallbackStore) write(op string, primaryFn, localFn func() error) error {
	if f.primary != nil {
		err := primaryFn()
		if err == nil {
			return nil
		}
		f.logger.Warn("Primary metadata store failed, saving locally",
			zap.String("op", op), zap.Error(err))
	}
	return localFn()
}

func (f *FallbackStore) SaveSession(ctx context.Context, session *Session) error {
	return f.write("save_session",
		func() error { return f.primary.SaveSession(ctx, session) },
		func() error { return f.local.SaveSession(ctx, session) })
}

func (f *FallbackStore) FinishSession(ctx context.Context, session *Session) error {
	return f.write("finish_session",
		func() error { return f.primary.FinishSession(ctx, session) },
		func() error { return f.local.FinishSession(ctx, session) })
}

func (f *FallbackStore) SaveMovement(ctx context.Context, movement *Movement) error {
	return f.write("save_movement",
		func() error { return f.primary.SaveMovement(ctx, movement) },
		func() error { return f.local.SaveMovement(ctx, movement) })
}

func (f *FallbackStore) SaveArtifact(ctx context.Context, artifact *Artifact) error {
	return f.write("save_artifact",
		func() error { return f.primary.SaveArtifact(ctx, artifact) },
		func() error { return f.local.SaveArtifact(ctx, artifact) })
}

// ListArtifacts merges both stores, primary first. Duplicate IDs keep the
// primary's row.
func (f *FallbackStore) ListArtifacts(ctx context.Context, sessionID string) ([]*Artifact, error) {
	var out []*Artifact
	seen := make(map[string]bool)
	if f.primary != nil {
		primary, err := f.primary.ListArtifacts(ctx, sessionID)
		if err != nil {
			f.logger.Warn("Primary metadata store list failed", zap.Error(err))
		}
		for _, a := range primary {
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	local, err := f.local.ListArtifacts(ctx, sessionID)
	if err != nil {
		return out, err
	}
	for _, a := range local {
		if !seen[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

// Now prefers the primary's clock.
func (f *FallbackStore) Now(ctx context.Context) (time.Time, error) {
	if f.primary != nil {
		now, err := f.primary.Now(ctx)
		if err == nil {
			return now, nil
		}
		f.logger.Debug("Primary clock unavailable", zap.Error(err))
	}
	return f.local.Now(ctx)
}

// HealthCheck reports the local store's health; the primary being down is
// tolerated.
func (f *FallbackStore) HealthCheck(ctx context.Context) error {
	if f.primary != nil {
		if err := f.primary.HealthCheck(ctx); err != nil {
			f.logger.Warn("Primary metadata store unhealthy", zap.Error(err))
		}
	}
	return f.local.HealthCheck(ctx)
}

func (f *FallbackStore) Close() error {
	var err error
	if f.primary != nil {
		err = multierr.Append(err, f.primary.Close())
	}
	return multierr.Append(err, f.local.Close())
}
