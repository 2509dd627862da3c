// Package capture keeps the small rolling set of still snapshots that the
// session periodically uploads.
package capture

import (
	"sync"
	"time"
)

const (
	MinRingSize     = 3
	MaxRingSize     = 5
	DefaultRingSize = 4
)

// Image is one encoded snapshot.
type Image struct {
	Timestamp time.Time
	Data      []byte
	Width     int
	Height    int
}

// Ring is a fixed-capacity buffer of snapshots. When full, the oldest
// snapshot is overwritten.
type Ring struct {
	buffer     []Image
	capacity   int
	writeIndex int
	count      int
	mu         sync.Mutex
}

// NewRing creates a ring; capacity is clamped to [MinRingSize, MaxRingSize].
func NewRing(capacity int) *Ring {
	if capacity < MinRingSize {
		capacity = MinRingSize
	}
	if capacity > MaxRingSize {
		capacity = MaxRingSize
	}
	return &Ring{
		buffer:   make([]Image, capacity),
		capacity: capacity,
	}
}

// Add inserts img, overwriting the oldest entry when full.
func (r *Ring) Add(img Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(img)
}

func (r *Ring) add(img Image) {
	r.buffer[r.writeIndex] = img
	r.writeIndex = (r.writeIndex + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// Drain removes and returns every snapshot, oldest first.
func (r *Ring) Drain() []Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snapshot()
	r.clear()
	return out
}

// Requeue puts back snapshots from a failed upload. They are older than
// anything added since the drain, so they go in front; if the total exceeds
// capacity only the newest entries are kept.
func (r *Ring) Requeue(imgs []Image) {
	if len(imgs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	newer := r.snapshot()
	r.clear()
	for _, img := range imgs {
		r.add(img)
	}
	for _, img := range newer {
		r.add(img)
	}
}

// Snapshot returns the buffered images, oldest first, without removing them.
func (r *Ring) Snapshot() []Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Ring) snapshot() []Image {
	if r.count == 0 {
		return nil
	}
	out := make([]Image, r.count)
	start := (r.writeIndex - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		out[i] = r.buffer[(start+i)%r.capacity]
	}
	return out
}

func (r *Ring) clear() {
	for i := range r.buffer {
		r.buffer[i] = Image{}
	}
	r.writeIndex = 0
	r.count = 0
}

// Len returns the number of buffered snapshots.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the fixed capacity.
func (r *Ring) Capacity() int {
	return r.capacity
}
