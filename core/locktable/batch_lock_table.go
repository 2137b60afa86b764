package locktable

import (
	"github.com/google/btree"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
)

const btreeDegree = 16

// BatchLockTable collects the lock requests of one batch, ordered by record.
// It is built by exactly one goroutine and handed over as a whole.
type BatchLockTable struct {
	pool  *StagePool
	tree  *btree.BTreeG[*BatchLockQueue]
	pivot BatchLockQueue
}

func lessQueue(a, b *BatchLockQueue) bool { return a.Key.Less(b.Key) }

// NewBatchLockTable creates an empty table whose stages come from pool.
func NewBatchLockTable(pool *StagePool) *BatchLockTable {
	return &BatchLockTable{
		pool: pool,
		tree: btree.NewG(btreeDegree, lessQueue),
	}
}

// InsertLockRequest appends the lock requests of act: an exclusive stage per
// write key, and for every read key either a place in the shared tail stage
// or a new shared stage.
func (t *BatchLockTable) InsertLockRequest(act *transaction.Action) error {
	for _, k := range act.WriteSet() {
		if err := t.insert(k, act, Exclusive); err != nil {
			return err
		}
	}
	for _, k := range act.ReadSet() {
		if err := t.insert(k, act, Shared); err != nil {
			return err
		}
	}
	return nil
}

func (t *BatchLockTable) insert(k record.Key, act *transaction.Action, lockType LockType) error {
	t.pivot.Key = k
	q, ok := t.tree.Get(&t.pivot)
	if !ok {
		q = &BatchLockQueue{Key: k}
		t.tree.ReplaceOrInsert(q)
	}
	if tail := q.tail(); tail != nil && tail.AddToStage(act, lockType) {
		return nil
	}
	stage, err := t.pool.Alloc(lockType, act)
	if err != nil {
		return err
	}
	q.Stages = append(q.Stages, stage)
	return nil
}

// Len is the number of distinct records requested.
func (t *BatchLockTable) Len() int { return t.tree.Len() }

// Queue returns the batch queue of k.
func (t *BatchLockTable) Queue(k record.Key) (*BatchLockQueue, bool) {
	t.pivot.Key = k
	return t.tree.Get(&t.pivot)
}

// Ascend visits every queue in key order until fn returns false.
func (t *BatchLockTable) Ascend(fn func(q *BatchLockQueue) bool) {
	t.tree.Ascend(fn)
}

// AscendRange visits the queues with keys in [from, to] in key order.
func (t *BatchLockTable) AscendRange(from, to record.Key, fn func(q *BatchLockQueue) bool) {
	t.tree.AscendGreaterOrEqual(&BatchLockQueue{Key: from}, func(q *BatchLockQueue) bool {
		if to.Less(q.Key) {
			return false
		}
		return fn(q)
	})
}

// Keys lists the requested records in order.
func (t *BatchLockTable) Keys() []record.Key {
	keys := make([]record.Key, 0, t.tree.Len())
	t.tree.Ascend(func(q *BatchLockQueue) bool {
		keys = append(keys, q.Key)
		return true
	})
	return keys
}
