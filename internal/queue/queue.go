// Package queue provides a fixed-capacity FIFO between one producer and one
// consumer. When full, the newest element is dropped so the producer never
// blocks.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the depth used for received CAN records.
const DefaultCapacity = 50

var (
	ErrInvalidCapacity = errors.New("queue: capacity must be positive")
	ErrEmpty           = errors.New("queue: empty")
)

// Bounded is a channel-backed queue with drop-newest backpressure.
type Bounded[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// New allocates a queue holding up to capacity elements.
func New[T any](capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Bounded[T]{ch: make(chan T, capacity)}, nil
}

// Push enqueues v without blocking. It returns false, and counts a drop,
// when the queue is full.
func (q *Bounded[T]) Push(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop removes the oldest element, waiting up to timeout. A zero timeout
// returns ErrEmpty immediately when nothing is queued.
func (q *Bounded[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	if timeout <= 0 {
		return zero, ErrEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrEmpty
	}
}

// Drain removes and returns everything currently queued.
func (q *Bounded[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func (q *Bounded[T]) Len() int        { return len(q.ch) }
func (q *Bounded[T]) Cap() int        { return cap(q.ch) }
func (q *Bounded[T]) Dropped() uint64 { return q.dropped.Load() }
