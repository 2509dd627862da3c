package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerClock supplies a trusted time, normally the metadata database's.
type ServerClock interface {
	Now(ctx context.Context) (time.Time, error)
}

// Baseline tracks elapsed active time against a server clock. Local time is
// only trusted monotonically between anchors; every pause and resume
// re-anchors on the server clock, so wall-clock jumps while hidden do not
// leak into elapsed time.
type Baseline struct {
	clock  ServerClock
	logger *zap.Logger

	mu          sync.Mutex
	start       time.Time // server time the session started
	anchor      time.Time // server time of the last anchor
	anchorLocal time.Time // local monotonic reading at the anchor
	pausedAt    time.Time // server time of the pending pause
	pausedTotal time.Duration
	paused      bool
}

func newBaseline(ctx context.Context, clock ServerClock, logger *zap.Logger) *Baseline {
	b := &Baseline{clock: clock, logger: logger}
	now := b.serverNow(ctx)
	b.start = now
	b.anchor = now
	b.anchorLocal = time.Now()
	return b
}

// serverNow asks the server, falling back to extrapolating the last anchor.
func (b *Baseline) serverNow(ctx context.Context) time.Time {
	if b.clock != nil {
		now, err := b.clock.Now(ctx)
		if err == nil {
			return now
		}
		b.logger.Debug("Server clock unavailable, using local", zap.Error(err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.anchor.IsZero() {
		return time.Now()
	}
	return b.anchor.Add(time.Since(b.anchorLocal))
}

// Start is the server time the session started.
func (b *Baseline) Start() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start
}

func (b *Baseline) pause(ctx context.Context) {
	now := b.serverNow(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.paused = true
	b.pausedAt = now
}

func (b *Baseline) resume(ctx context.Context) {
	now := b.serverNow(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		return
	}
	b.paused = false
	if gap := now.Sub(b.pausedAt); gap > 0 {
		b.pausedTotal += gap
	}
	b.anchor = now
	b.anchorLocal = time.Now()
}

// Elapsed is active (unpaused) time since start.
func (b *Baseline) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.pausedAt
	if !b.paused {
		now = b.anchor.Add(time.Since(b.anchorLocal))
	}
	d := now.Sub(b.start) - b.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// Paused reports whether the session is suspended.
func (b *Baseline) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}
