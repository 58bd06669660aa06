package workqueue

import (
	"context"
	"sync"
	"sync/atomic"

	gwerr "ptygate/internal/errors"
)

// Queue is a multi-producer, multi-consumer FIFO.
//
// Items travel through a buffered channel of fixed capacity.  When the
// channel is full, Push appends to an overflow FIFO instead of
// blocking, and every later Push goes behind the overflow until Flush
// (or a consumer) has moved it into the channel, so items leave in the
// order they arrived.
type Queue[T any] struct {
	ch chan T

	mu      sync.Mutex // guards backlog and closed; held across sends to ch
	backlog *FIFO[T]
	closed  bool

	spilled atomic.Int64 // mirrors backlog.Len() for lock-free checks
}

// New returns a Queue whose channel holds capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:      make(chan T, capacity),
		backlog: NewFIFO[T](),
	}
}

// Push enqueues v without blocking.  It fails only after Close.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return gwerr.ErrQueueClosed
	}
	if q.backlog.Len() == 0 {
		select {
		case q.ch <- v:
			return nil
		default:
		}
	}
	q.backlog.Push(v)
	q.spilled.Store(int64(q.backlog.Len()))
	return nil
}

// Flush moves as much of the overflow into the channel as fits and
// returns how many items remain in the overflow.
func (q *Queue[T]) Flush() int {
	if q.spilled.Load() == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	for {
		v, ok := q.backlog.Peek()
		if !ok {
			break
		}
		select {
		case q.ch <- v:
			q.backlog.Pop()
			continue
		default:
		}
		break
	}
	n := q.backlog.Len()
	q.spilled.Store(int64(n))
	return n
}

// Pop blocks until an item is available, ctx is done, or the queue is
// closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, gwerr.ErrQueueClosed
		}
		// A slot just opened; pull the overflow forward.
		q.Flush()
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the queue.  Items already in the channel are still
// delivered; overflow items are discarded.  Consumers see
// ErrQueueClosed once the channel is empty.  Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.backlog = NewFIFO[T]()
	q.spilled.Store(0)
	close(q.ch)
}

// Len returns the number of queued items, overflow included.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + q.backlog.Len()
}
