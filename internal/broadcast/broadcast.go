// Package broadcast holds the live BodyAnalysis value for a session and fans
// every new value out to subscribers.
package broadcast

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/analysis"
	"github.com/mikeyg42/bodytrack/internal/opt"
)

// Listener receives every new value. Listeners run on the publishing
// goroutine and must not publish themselves.
type Listener func(analysis.BodyAnalysis)

// Patch names the fields an Update overwrites. Unset fields are kept.
type Patch struct {
	Pose           opt.Option[*analysis.PoseState]
	Face           opt.Option[*analysis.FaceState]
	Hands          opt.Option[analysis.Hands]
	IsAnalyzing    opt.Option[bool]
	PoseConfidence opt.Option[int]
	FaceConfidence opt.Option[int]
	HandsDetected  opt.Option[analysis.HandsDetected]
	BodyMetrics    opt.Option[analysis.BodyMetrics]
}

// Apply returns base with the patch's fields overwritten.
func (p Patch) Apply(base analysis.BodyAnalysis) analysis.BodyAnalysis {
	if v, ok := p.Pose.Get(); ok {
		base.Pose = v
	}
	if v, ok := p.Face.Get(); ok {
		base.Face = v
	}
	if v, ok := p.Hands.Get(); ok {
		base.Hands = v
	}
	if v, ok := p.IsAnalyzing.Get(); ok {
		base.IsAnalyzing = v
	}
	if v, ok := p.PoseConfidence.Get(); ok {
		base.PoseConfidence = v
	}
	if v, ok := p.FaceConfidence.Get(); ok {
		base.FaceConfidence = v
	}
	if v, ok := p.HandsDetected.Get(); ok {
		base.HandsDetected = v
	}
	if v, ok := p.BodyMetrics.Get(); ok {
		base.BodyMetrics = v
	}
	return base
}

// Stats counts deliveries.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
	Panics    uint64
}

// Broadcaster is a single current-value cell with a subscriber list. Writes
// are serialized, so subscribers observe values in publish order. Past values
// are not buffered for late subscribers.
type Broadcaster struct {
	writeMu sync.Mutex

	mu        sync.RWMutex
	current   analysis.BodyAnalysis
	listeners map[uint64]Listener
	nextID    uint64

	logger *zap.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// New creates a broadcaster holding the idle snapshot.
func New() *Broadcaster {
	return &Broadcaster{
		current:   analysis.Empty(),
		listeners: make(map[uint64]Listener),
		logger:    zap.L().Named("broadcaster"),
	}
}

// Current returns the latest value.
func (b *Broadcaster) Current() analysis.BodyAnalysis {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Publish replaces the whole value and notifies subscribers.
func (b *Broadcaster) Publish(v analysis.BodyAnalysis) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	b.current = v
	b.mu.Unlock()

	b.notify(v)
}

// Update merges p into the current value and notifies subscribers.
func (b *Broadcaster) Update(p Patch) analysis.BodyAnalysis {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	next := p.Apply(b.current)
	b.current = next
	b.mu.Unlock()

	b.notify(next)
	return next
}

// Reset returns the cell to the idle snapshot.
func (b *Broadcaster) Reset() {
	b.Publish(analysis.Empty())
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn Listener) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Watch returns a channel fed with every new value. When the consumer falls
// behind, the oldest queued value is discarded so the producer never blocks.
func (b *Broadcaster) Watch(buffer int) (<-chan analysis.BodyAnalysis, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan analysis.BodyAnalysis, buffer)

	unsubscribe := b.Subscribe(func(v analysis.BodyAnalysis) {
		for {
			select {
			case ch <- v:
				return
			default:
			}
			select {
			case <-ch:
				b.dropped.Add(1)
			default:
			}
		}
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsubscribe()
			// Wait out any delivery in progress before closing.
			b.writeMu.Lock()
			close(ch)
			b.writeMu.Unlock()
		})
	}
}

// Stats returns delivery counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
	}
}

func (b *Broadcaster) notify(v analysis.BodyAnalysis) {
	b.published.Add(1)

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		b.deliver(fn, v)
	}
}

func (b *Broadcaster) deliver(fn Listener, v analysis.BodyAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(v)
	b.delivered.Add(1)
}
