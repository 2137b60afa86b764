package queue

import (
	"sync/atomic"

	"github.com/kyungjunlee/multiversioning/internal/spin"
	"github.com/puzpuzpuz/xsync/v3"
)

type spinQueue[T any] struct {
	q        *xsync.MPMCQueueOf[T]
	size     atomic.Int64
	capacity int
}

func newSpinQueue[T any](capacity int) *spinQueue[T] {
	return &spinQueue[T]{q: xsync.NewMPMCQueueOf[T](capacity), capacity: capacity}
}

func (s *spinQueue[T]) TryPush(item T) bool {
	if !s.q.TryEnqueue(item) {
		return false
	}
	s.size.Add(1)
	return true
}

func (s *spinQueue[T]) Push(stop *spin.Signal, item T) bool {
	return spin.Until(stop, func() bool { return s.TryPush(item) })
}

func (s *spinQueue[T]) TryPop() (T, bool) {
	item, ok := s.q.TryDequeue()
	if ok {
		s.size.Add(-1)
	}
	return item, ok
}

func (s *spinQueue[T]) Pop(stop *spin.Signal) (T, bool) {
	var item T
	ok := spin.Until(stop, func() bool {
		var got bool
		item, got = s.TryPop()
		return got
	})
	return item, ok
}

func (s *spinQueue[T]) Len() int {
	// A consumer may observe an item before the producer's increment.
	return max(int(s.size.Load()), 0)
}

func (s *spinQueue[T]) Cap() int { return s.capacity }
