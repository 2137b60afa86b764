// Package queue provides the bounded FIFO queues connecting scheduler and
// executor goroutines. Two interchangeable backends exist: a lock-free
// spinning queue and a channel-based one.
package queue

import (
	"errors"
	"fmt"

	"github.com/kyungjunlee/multiversioning/internal/spin"
)

// Backend selects the queue implementation.
type Backend string

const (
	BackendSpin    Backend = "spin"
	BackendChannel Backend = "channel"
)

var (
	ErrUnknownBackend  = errors.New("unknown queue backend")
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
)

// Queue is a bounded multi-producer multi-consumer FIFO. Items pushed by one
// producer are popped in push order.
type Queue[T any] interface {
	// TryPush enqueues item unless the queue is full.
	TryPush(item T) bool
	// Push blocks until item is enqueued or stop is raised.
	Push(stop *spin.Signal, item T) bool
	// TryPop dequeues the oldest item, if any.
	TryPop() (T, bool)
	// Pop blocks until an item is available or stop is raised.
	Pop(stop *spin.Signal) (T, bool)
	// Len is the number of queued items. It may lag concurrent operations.
	Len() int
	Cap() int
}

// New creates a queue of the given backend.
func New[T any](backend Backend, capacity int) (Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	switch backend {
	case BackendSpin, "":
		return newSpinQueue[T](capacity), nil
	case BackendChannel:
		return newChanQueue[T](capacity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Drain pops every queued item.
func Drain[T any](q Queue[T]) []T {
	var out []T
	for {
		item, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}
