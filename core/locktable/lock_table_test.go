package locktable

import (
	"sync"
	"testing"

	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func newTestTable(t *testing.T, records uint64) *LockTable {
	t.Helper()
	layout, err := record.NewLayout([]record.TableDefinition{{TableID: 0, NumRecords: records}})
	require.NoError(t, err)
	return New(layout, NewStagePool(1024, 0))
}

func buildBatch(t *testing.T, lt *LockTable, actions ...*transaction.Action) *BatchLockTable {
	t.Helper()
	blt := lt.NewBatchLockTable()
	for _, act := range actions {
		require.NoError(t, blt.InsertLockRequest(act))
	}
	return blt
}

// finalize releases every lock of act the way the global schedule does.
func finalize(t *testing.T, lt *LockTable, act *transaction.Action) {
	t.Helper()
	for _, keys := range [][]record.Key{act.WriteSet(), act.ReadSet()} {
		for _, k := range keys {
			head, err := lt.HeadFor(k)
			require.NoError(t, err)
			last, err := head.FinalizeAction(act)
			require.NoError(t, err)
			if last {
				require.NoError(t, lt.PassLockToNextStageFor(k))
			}
		}
	}
}

func requireAtMostOneHolder(t *testing.T, lt *LockTable) {
	t.Helper()
	for i := 0; i < lt.Layout().Size(); i++ {
		stages, err := lt.Stages(lt.Layout().KeyAt(i))
		require.NoError(t, err)
		holders := 0
		for j, s := range stages {
			if s.HasLock() {
				holders++
				require.Zero(t, j, "only the head may hold the lock")
			}
		}
		require.LessOrEqual(t, holders, 1)
	}
}

// --- Test Cases ---

func TestBatchLockTable_InsertLockRequest(t *testing.T) {
	lt := newTestTable(t, 10)
	r1 := newAction(t, 1, nil, []uint64{3})
	r2 := newAction(t, 2, nil, []uint64{3})
	w := newAction(t, 3, []uint64{3}, nil)
	r3 := newAction(t, 4, []uint64{5}, []uint64{3})

	blt := buildBatch(t, lt, r1, r2, w, r3)
	require.Equal(t, []record.Key{{Key: 3}, {Key: 5}}, blt.Keys())

	q, ok := blt.Queue(record.Key{Key: 3})
	require.True(t, ok)
	require.Len(t, q.Stages, 3)
	require.Equal(t, Shared, q.Stages[0].LockType())
	require.Equal(t, []*transaction.Action{r1, r2}, q.Stages[0].Requesters())
	require.Equal(t, Exclusive, q.Stages[1].LockType())
	require.Equal(t, Shared, q.Stages[2].LockType())
}

func TestBatchLockTable_AscendRangeInclusive(t *testing.T) {
	lt := newTestTable(t, 10)
	blt := buildBatch(t, lt, newAction(t, 1, []uint64{1, 4, 5, 8}, nil))

	var visited []uint64
	blt.AscendRange(record.Key{Key: 4}, record.Key{Key: 8}, func(q *BatchLockQueue) bool {
		visited = append(visited, q.Key.Key)
		return true
	})
	require.Equal(t, []uint64{4, 5, 8}, visited)
}

func TestLockTable_MergeGrantsHeadOfEmptyQueue(t *testing.T) {
	lt := newTestTable(t, 10)
	a := newAction(t, 1, []uint64{1}, nil)
	b := newAction(t, 2, []uint64{1}, []uint64{2})

	require.NoError(t, lt.MergeBatchTable(buildBatch(t, lt, a)))
	require.NoError(t, lt.MergeBatchTable(buildBatch(t, lt, b)))

	require.True(t, a.ReadyToExecute())
	require.False(t, b.ReadyToExecute())
	require.Equal(t, uint64(1), b.LocksHeld(), "shared lock on 2 is free")
	requireAtMostOneHolder(t, lt)

	finalize(t, lt, a)
	require.True(t, b.ReadyToExecute())
	requireAtMostOneHolder(t, lt)

	finalize(t, lt, b)
	require.Zero(t, lt.QueuedStages())
	require.Zero(t, lt.Pool().Live(), "every stage returns to the pool")
}

func TestLockTable_FIFOAcrossBatches(t *testing.T) {
	lt := newTestTable(t, 4)
	var actions []*transaction.Action
	for i := 0; i < 5; i++ {
		act := newAction(t, uint64(i), []uint64{2}, nil)
		actions = append(actions, act)
		require.NoError(t, lt.MergeBatchTable(buildBatch(t, lt, act)))
	}

	stages, err := lt.Stages(record.Key{Key: 2})
	require.NoError(t, err)
	require.Len(t, stages, 5)
	for i, s := range stages {
		require.Equal(t, []*transaction.Action{actions[i]}, s.Requesters())
	}

	for i, act := range actions {
		require.True(t, act.ReadyToExecute(), "action %d should hold the lock", i)
		for _, later := range actions[i+1:] {
			require.False(t, later.ReadyToExecute())
		}
		finalize(t, lt, act)
	}
}

func TestLockTable_ShardedMergeConcurrent(t *testing.T) {
	lt := newTestTable(t, 100)
	shards, err := lt.Layout().Shards(4)
	require.NoError(t, err)

	var writes []uint64
	for k := uint64(0); k < 100; k++ {
		writes = append(writes, k)
	}
	act := newAction(t, 1, writes, nil)
	blt := buildBatch(t, lt, act)

	var wg sync.WaitGroup
	errs := make([]error, len(shards))
	for i, s := range shards {
		wg.Add(1)
		go func(i int, s record.KeyRange) {
			defer wg.Done()
			errs[i] = lt.MergeBatchTableFor(blt, s.From, s.To)
		}(i, s)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.True(t, act.ReadyToExecute())
	require.Equal(t, 100, lt.QueuedStages())
}

func TestLockTable_Errors(t *testing.T) {
	lt := newTestTable(t, 4)

	_, err := lt.HeadFor(record.Key{Key: 10})
	require.ErrorIs(t, err, ErrUnknownRecord)
	require.ErrorIs(t, lt.PassLockToNextStageFor(record.Key{Key: 1}), ErrEmptyLockQueue)

	head, err := lt.HeadFor(record.Key{Key: 1})
	require.NoError(t, err)
	require.Nil(t, head)

	blt := buildBatch(t, lt, newAction(t, 1, []uint64{1}, nil))
	require.NoError(t, lt.MergeBatchTable(blt))
	lt.Reset()
	require.Zero(t, lt.QueuedStages())
	require.Zero(t, lt.Pool().Live())
}
