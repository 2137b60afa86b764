package locktable

import (
	"fmt"

	"github.com/kyungjunlee/multiversioning/core/record"
)

// LockTable is the global table: one lock queue per record of the layout.
// Queues are allocated up front so that merges of disjoint key ranges can
// run concurrently without a lock on the table itself.
type LockTable struct {
	layout *record.Layout
	pool   *StagePool
	queues []LockQueue
}

// New creates a lock table covering every record of layout.
func New(layout *record.Layout, pool *StagePool) *LockTable {
	t := &LockTable{
		layout: layout,
		pool:   pool,
		queues: make([]LockQueue, layout.Size()),
	}
	for i := range t.queues {
		t.queues[i].pool = pool
	}
	return t
}

func (t *LockTable) Layout() *record.Layout { return t.layout }
func (t *LockTable) Pool() *StagePool       { return t.pool }

// NewBatchLockTable creates a batch table drawing from this table's pool.
func (t *LockTable) NewBatchLockTable() *BatchLockTable {
	return NewBatchLockTable(t.pool)
}

func (t *LockTable) queue(k record.Key) (*LockQueue, error) {
	ord, ok := t.layout.Ordinal(k)
	if !ok {
		return nil, fmt.Errorf("record %s: %w", k, ErrUnknownRecord)
	}
	return &t.queues[ord], nil
}

// MergeBatchTable merges every record of blt.
func (t *LockTable) MergeBatchTable(blt *BatchLockTable) error {
	return t.MergeBatchTableFor(blt, t.layout.First(), t.layout.Last())
}

// MergeBatchTableFor appends the batch queues of the records in [from, to]
// to the global queues. A stage that lands at the head of an empty queue is
// granted the lock. Concurrent calls must use disjoint ranges.
func (t *LockTable) MergeBatchTableFor(blt *BatchLockTable, from, to record.Key) error {
	var err error
	blt.AscendRange(from, to, func(bq *BatchLockQueue) bool {
		q, qerr := t.queue(bq.Key)
		if qerr != nil {
			err = qerr
			return false
		}
		if q.Merge(bq.Stages) {
			bq.Stages[0].NotifyLockObtained()
		}
		return true
	})
	return err
}

// HeadFor returns the stage holding k, or nil when nobody has requested it.
func (t *LockTable) HeadFor(k record.Key) (*LockStage, error) {
	q, err := t.queue(k)
	if err != nil {
		return nil, err
	}
	return q.PeekHead(), nil
}

// PassLockToNextStageFor pops the head stage of k and grants the lock to the
// next one.
func (t *LockTable) PassLockToNextStageFor(k record.Key) error {
	q, err := t.queue(k)
	if err != nil {
		return err
	}
	popped, next, err := q.PopHead()
	if err != nil {
		return fmt.Errorf("record %s: %w", k, err)
	}
	if popped == nil {
		return fmt.Errorf("record %s: %w", k, ErrStaleStage)
	}
	if err := t.pool.Release(popped.id); err != nil {
		return err
	}
	if next != nil {
		next.NotifyLockObtained()
	}
	return nil
}

// Stages returns a snapshot of the queue of k.
func (t *LockTable) Stages(k record.Key) ([]*LockStage, error) {
	q, err := t.queue(k)
	if err != nil {
		return nil, err
	}
	return q.Snapshot(), nil
}

// QueuedStages is the number of stages across all queues.
func (t *LockTable) QueuedStages() int {
	n := 0
	for i := range t.queues {
		n += t.queues[i].Len()
	}
	return n
}

// Reset empties every queue and the stage pool. It must not run
// concurrently with merges or execution.
func (t *LockTable) Reset() {
	for i := range t.queues {
		t.queues[i].reset()
	}
	t.pool.Reset()
}
