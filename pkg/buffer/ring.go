// Package buffer provides a generic bounded ring queue that overwrites the
// oldest element when full. It backs the audio relay's outbound frame
// queue, where dropping stale audio is preferable to unbounded growth or
// blocking the producer.
package buffer

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Recv after the ring is closed and drained.
var ErrClosed = errors.New("buffer: ring closed")

// Ring is a thread-safe bounded queue. Push never blocks: when the ring is
// full the oldest element is discarded to make room. Recv blocks until an
// element is available or the ring is closed.
type Ring[T any] struct {
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	buf     []T
	head    int64
	tail    int64
	dropped int64
	closed  bool
}

// NewRing creates a Ring with the given capacity. Capacity must be > 0.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("buffer: ring capacity must be positive")
	}
	return &Ring[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		buf:    make([]T, capacity),
	}
}

// Push appends v to the ring. If the ring is full the oldest element is
// dropped and Push reports true. Push on a closed ring is a no-op.
func (r *Ring[T]) Push(v T) (dropped bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.tail-r.head == int64(len(r.buf)) {
		r.head++
		r.dropped++
		dropped = true
	}
	r.buf[r.tail%int64(len(r.buf))] = v
	r.tail++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Recv removes and returns the oldest element. It blocks until an element
// is available, the ring is closed and drained (ErrClosed), or the context
// is done.
func (r *Ring[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		r.mu.Lock()
		if r.head < r.tail {
			v := r.take()
			more := r.head < r.tail
			r.mu.Unlock()
			if more {
				// Re-arm in case another receiver is waiting.
				select {
				case r.notify <- struct{}{}:
				default:
				}
			}
			return v, nil
		}
		if r.closed {
			r.mu.Unlock()
			return zero, ErrClosed
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-r.notify:
		case <-r.done:
		}
	}
}

// TryRecv removes and returns the oldest element without blocking.
func (r *Ring[T]) TryRecv() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == r.tail {
		var zero T
		return zero, false
	}
	return r.take(), true
}

// take pops the head element. Caller holds r.mu.
func (r *Ring[T]) take() T {
	i := r.head % int64(len(r.buf))
	v := r.buf[i]
	var zero T
	r.buf[i] = zero
	r.head++
	return v
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// Dropped returns how many elements have been discarded by full-ring pushes.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close marks the ring closed. Buffered elements remain receivable;
// subsequent pushes are dropped. Safe to call multiple times.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
}
