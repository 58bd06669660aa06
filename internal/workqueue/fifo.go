// Package workqueue hands readiness events from the reactor to the
// worker pool.
//
// FIFO is a growable array with amortised compaction.  Queue wraps a
// bounded channel around it: consumers block on the channel,
// and the FIFO absorbs whatever the channel cannot take so that a
// producer never blocks.
package workqueue

import gwerr "ptygate/internal/errors"

// InitialCapacity is the backing-array size of a fresh FIFO.
const InitialCapacity = 128

// FIFO is a first-in first-out buffer backed by a slice.  The tail
// doubles the capacity when it reaches the end; once the head has
// advanced a quarter of the way in, the live elements are moved back
// to index 0.  It is not safe for concurrent use.
type FIFO[T any] struct {
	buf  []T
	head int
	tail int
}

// NewFIFO returns an empty FIFO with [InitialCapacity] slots.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{buf: make([]T, InitialCapacity)}
}

// Push appends v at the tail.
func (f *FIFO[T]) Push(v T) {
	if f.buf == nil {
		f.buf = make([]T, InitialCapacity)
	}
	if f.tail == len(f.buf) {
		grown := make([]T, 2*len(f.buf))
		copy(grown, f.buf[f.head:f.tail])
		f.tail -= f.head
		f.head = 0
		f.buf = grown
	}
	f.buf[f.tail] = v
	f.tail++
}

// Pop removes and returns the head element.
func (f *FIFO[T]) Pop() (T, error) {
	var zero T
	if f.head == f.tail {
		return zero, gwerr.ErrQueueEmpty
	}
	v := f.buf[f.head]
	f.buf[f.head] = zero
	f.head++

	switch {
	case f.head == f.tail:
		f.head, f.tail = 0, 0
	case f.head >= len(f.buf)/4:
		n := copy(f.buf, f.buf[f.head:f.tail])
		clear(f.buf[n:f.tail])
		f.head, f.tail = 0, n
	}
	return v, nil
}

// Peek returns the head element without removing it.
func (f *FIFO[T]) Peek() (T, bool) {
	if f.head == f.tail {
		var zero T
		return zero, false
	}
	return f.buf[f.head], true
}

// Len returns the number of live elements.
func (f *FIFO[T]) Len() int { return f.tail - f.head }

// Cap returns the size of the backing array.
func (f *FIFO[T]) Cap() int { return len(f.buf) }

// Head returns the index of the head element in the backing array.
func (f *FIFO[T]) Head() int { return f.head }
