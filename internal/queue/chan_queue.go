package queue

import "github.com/kyungjunlee/multiversioning/internal/spin"

type chanQueue[T any] struct {
	ch chan T
}

func newChanQueue[T any](capacity int) *chanQueue[T] {
	return &chanQueue[T]{ch: make(chan T, capacity)}
}

func (c *chanQueue[T]) TryPush(item T) bool {
	select {
	case c.ch <- item:
		return true
	default:
		return false
	}
}

func (c *chanQueue[T]) Push(stop *spin.Signal, item T) bool {
	select {
	case c.ch <- item:
		return true
	case <-stop.Done():
		return false
	}
}

func (c *chanQueue[T]) TryPop() (T, bool) {
	select {
	case item := <-c.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

func (c *chanQueue[T]) Pop(stop *spin.Signal) (T, bool) {
	select {
	case item := <-c.ch:
		return item, true
	case <-stop.Done():
		var zero T
		return zero, false
	}
}

func (c *chanQueue[T]) Len() int { return len(c.ch) }
func (c *chanQueue[T]) Cap() int { return cap(c.ch) }
