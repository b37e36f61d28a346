// Package ringbuf implements a fixed-capacity FIFO ring that overwrites its
// oldest element when full. It is safe for one producer and any number of
// consumers.
package ringbuf

import "sync"

// Ring is a bounded FIFO of T with drop-oldest overflow behavior.
type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int // index of the oldest element
	n    int // number of stored elements
}

// New creates a Ring with the given capacity. Capacity must be at least 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. If the ring is full, the oldest element is evicted to make
// room; the evicted element and true are returned. Push never blocks.
func (r *Ring[T]) Push(v T) (evicted T, didEvict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		evicted = r.buf[r.head]
		didEvict = true
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, didEvict
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return evicted, false
}

// Pop removes and returns the oldest element, or ok=false if the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return v, false
	}
	v = r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }
