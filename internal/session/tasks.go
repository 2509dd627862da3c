package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// taskGroup owns the goroutines of one tracking run. Every task shares the
// group's context; stop cancels them together and waits.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func newTaskGroup(parent context.Context, logger *zap.Logger) *taskGroup {
	ctx, cancel := context.WithCancel(parent)
	return &taskGroup{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn. A panicking task is logged and ends; the others keep running.
func (g *taskGroup) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("Session task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		g.logger.Debug("Session task started", zap.String("task", name))
		fn(g.ctx)
		g.logger.Debug("Session task ended", zap.String("task", name))
	}()
}

// stop cancels every task and waits up to timeout. It reports whether all
// tasks returned in time.
func (g *taskGroup) stop(timeout time.Duration) bool {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		g.logger.Warn("Session tasks did not stop in time", zap.Duration("timeout", timeout))
		return false
	}
}

// every runs fn on each tick of interval until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

// gate suspends the frame loop while the session is hidden.
type gate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newGate() *gate {
	return &gate{resume: make(chan struct{})}
}

func (g *gate) pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resume = make(chan struct{})
	return true
}

func (g *gate) unpause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resume)
	return true
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks while paused.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	paused, ch := g.paused, g.resume
	g.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
