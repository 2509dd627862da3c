package capture

import (
	"testing"
	"time"
)

func img(n int) Image {
	return Image{Timestamp: time.Unix(int64(n), 0), Data: []byte{byte(n)}}
}

func ids(imgs []Image) []int {
	out := make([]int, len(imgs))
	for i, im := range imgs {
		out[i] = int(im.Data[0])
	}
	return out
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCapacityClamped(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, MinRingSize}, {3, 3}, {5, 5}, {40, MaxRingSize},
	}
	for _, tt := range tests {
		if got := NewRing(tt.in).Capacity(); got != tt.want {
			t.Fatalf("NewRing(%d).Capacity() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRingKeepsNewest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Add(img(i))
	}
	if got := ids(r.Drain()); !equal(got, []int{3, 4, 5}) {
		t.Fatalf("Drain() = %v, want [3 4 5]", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after drain = %d", r.Len())
	}
}

func TestRequeueBoundedByCapacity(t *testing.T) {
	r := NewRing(4)
	r.Add(img(1))
	r.Add(img(2))
	r.Add(img(3))

	failed := r.Drain()
	r.Add(img(4))
	r.Add(img(5))
	r.Requeue(failed)

	if got := ids(r.Snapshot()); !equal(got, []int{2, 3, 4, 5}) {
		t.Fatalf("after requeue = %v, want [2 3 4 5]", got)
	}
	if r.Len() != r.Capacity() {
		t.Fatalf("Len() = %d, want capacity %d", r.Len(), r.Capacity())
	}
}
