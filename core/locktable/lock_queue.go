package locktable

import (
	"sync"

	"github.com/kyungjunlee/multiversioning/core/record"
)

// compactAfter is the number of popped entries a queue tolerates before it
// moves its live entries back to the front of the slice.
const compactAfter = 64

// LockQueue is the global FIFO of lock stages for one record. The head stage
// is the one holding the record.
type LockQueue struct {
	mu     sync.Mutex
	pool   *StagePool
	stages []StageID
	head   int
}

func (q *LockQueue) len() int { return len(q.stages) - q.head }

// Merge appends the stages of one batch to the tail. If the queue was empty,
// the first appended stage becomes the head and the caller must grant it
// the lock.
func (q *LockQueue) Merge(stages []*LockStage) (newHead bool) {
	if len(stages) == 0 {
		return false
	}
	q.mu.Lock()
	wasEmpty := q.len() == 0
	for _, s := range stages {
		q.stages = append(q.stages, s.id)
	}
	q.mu.Unlock()
	return wasEmpty
}

// PeekHead returns the head stage, or nil if the queue is empty.
func (q *LockQueue) PeekHead() *LockStage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.len() == 0 {
		return nil
	}
	// A stage is released only after it has been popped, so the head
	// handle always resolves while the queue lock is held.
	s, _ := q.pool.Get(q.stages[q.head])
	return s
}

// PopHead removes the head stage and returns it together with the new head,
// which is nil when the queue became empty.
func (q *LockQueue) PopHead() (popped, next *LockStage, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.len() == 0 {
		return nil, nil, ErrEmptyLockQueue
	}
	popped, _ = q.pool.Get(q.stages[q.head])
	q.head++
	if q.len() > 0 {
		next, _ = q.pool.Get(q.stages[q.head])
	}
	if q.head >= compactAfter && q.head*2 >= len(q.stages) {
		n := copy(q.stages, q.stages[q.head:])
		q.stages = q.stages[:n]
		q.head = 0
	}
	return popped, next, nil
}

// Len is the number of queued stages.
func (q *LockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// Snapshot returns the queued stages in FIFO order.
func (q *LockQueue) Snapshot() []*LockStage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*LockStage, 0, q.len())
	for _, id := range q.stages[q.head:] {
		if s, ok := q.pool.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func (q *LockQueue) reset() {
	q.mu.Lock()
	q.stages = q.stages[:0]
	q.head = 0
	q.mu.Unlock()
}

// BatchLockQueue is the FIFO of stages for one record within one batch. It
// is only touched by the goroutine building the batch.
type BatchLockQueue struct {
	Key    record.Key
	Stages []*LockStage
}

func (q *BatchLockQueue) tail() *LockStage {
	if len(q.Stages) == 0 {
		return nil
	}
	return q.Stages[len(q.Stages)-1]
}
