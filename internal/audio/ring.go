package audio

import (
	"fmt"
	"sync"
)

// Ring is a fixed-capacity circular buffer. Once full, new elements
// silently overwrite the oldest; that is the intended steady state for
// rolling audio history, not an error.
//
// Ring is safe for one writer and any number of readers without external
// locking. The internal mutex is held only for slice manipulation; readers
// copy the window they need out under the lock and compute afterwards.
type Ring[T any] struct {
	buf   []T
	head  int // index of the next write position
	count int

	mu sync.Mutex
}

// NewRing creates a ring buffer with the given fixed capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}

	return &Ring[T]{
		buf: make([]T, capacity),
	}, nil
}

// Append adds a single element, overwriting the oldest when full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// AppendAll adds a batch of elements in order. A batch larger than the
// capacity leaves the ring holding the newest capacity elements.
func (r *Ring[T]) AppendAll(values []T) {
	if len(values) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the tail of an oversized batch can survive.
	if len(values) > len(r.buf) {
		values = values[len(values)-len(r.buf):]
	}

	for _, v := range values {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
	}
	r.count += len(values)
	if r.count > len(r.buf) {
		r.count = len(r.buf)
	}
}

// LastN returns the most recent n elements in insertion order (oldest
// first). When fewer than n elements are stored, all of them are returned.
// The result is a copy and safe to use without holding any lock.
func (r *Ring[T]) LastN(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]T, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}

	return out
}

// Elements returns every stored element in insertion order.
func (r *Ring[T]) Elements() []T {
	r.mu.Lock()
	n := r.count
	r.mu.Unlock()

	return r.LastN(n)
}

// Clear discards all stored elements. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.count = 0
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// IsEmpty reports whether the ring holds no elements.
func (r *Ring[T]) IsEmpty() bool {
	return r.Len() == 0
}
