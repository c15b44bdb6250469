// Package logring provides a bounded append-only ring used for per-attribute
// value history.
//
// A Ring keeps at most its fixed capacity of entries; appending past the
// capacity silently evicts the oldest entry. Unlike a channel-backed buffer,
// entries stay readable after Snapshot - the history is rendered repeatedly
// by the presentation layer.
//
// A Ring is NOT safe for concurrent use. Session state owns every ring and
// mutates it only on the session goroutine.
package logring

import "sync/atomic"

// Ring is a fixed-capacity buffer with overwrite-oldest semantics.
type Ring[T any] struct {
	buf     []T
	head    int // index of the oldest entry
	size    int
	evicted int64 // atomic, total entries dropped by eviction
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("logring: capacity must be > 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append inserts v, evicting the oldest entry if the ring is full.
func (r *Ring[T]) Append(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	// Full: overwrite the oldest slot and advance.
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	atomic.AddInt64(&r.evicted, 1)
}

// Snapshot returns a copy of the current entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest entry, if any.
func (r *Ring[T]) Latest() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Clear removes all entries. Capacity is retained.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Evicted returns the total number of entries dropped by eviction.
func (r *Ring[T]) Evicted() int64 {
	return atomic.LoadInt64(&r.evicted)
}
