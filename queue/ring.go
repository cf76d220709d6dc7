package queue

import "errors"

// ErrFull signals a Push against a saturated Ring. The original lcs_queue
// implementation left overflow as "the caller's bug" (QueueFull must be
// checked first); this type keeps that contract but returns an error
// instead of silently corrupting the slab, since Go has no equivalent of an
// unchecked pointer write to fall back on.
var ErrFull = errors.New("queue: full")

// Ring is a bounded, statically sized circular queue. Capacity is fixed at
// New and never grows — enqueuing past it is a caller error, counted by the
// caller's own drop statistic rather than by panicking here, matching the
// "drop, never block" contract of spec section 3.
//
// Ring is single-producer/single-consumer with no internal locking, safe
// only when driven from one cooperative Service() tick.
type Ring[T any] struct {
	data []T
	head int // next Pop
	tail int // next Push
	size int
}

// New allocates a Ring backed by a single slice of the given capacity. The
// slice is allocated once up front, mirroring the slab allocation described
// in the original QueueInit.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Cap returns the queue's fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.data) }

// Len returns the number of items currently queued.
func (r *Ring[T]) Len() int { return r.size }

// Full reports whether the next Push would fail.
func (r *Ring[T]) Full() bool { return r.size == len(r.data) }

// Empty reports whether Pop or Peek have nothing to return.
func (r *Ring[T]) Empty() bool { return r.size == 0 }

// Push enqueues an item. It returns ErrFull without writing anything when
// the queue is saturated, leaving the existing contents untouched.
func (r *Ring[T]) Push(v T) error {
	if r.Full() {
		return ErrFull
	}
	r.data[r.tail] = v
	r.tail = (r.tail + 1) % len(r.data)
	r.size++
	return nil
}

// Pop removes and returns the oldest item. ok is false on an empty queue,
// in which case the zero value of T is returned.
func (r *Ring[T]) Pop() (v T, ok bool) {
	if r.Empty() {
		return v, false
	}
	v = r.data[r.head]
	var zero T
	r.data[r.head] = zero // drop reference for GC-held element types
	r.head = (r.head + 1) % len(r.data)
	r.size--
	return v, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	if r.Empty() {
		return v, false
	}
	return r.data[r.head], true
}

// Reset empties the queue in place, reusing the existing backing slice —
// the Ring equivalent of the original's per-instance reset() on power-up.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}
