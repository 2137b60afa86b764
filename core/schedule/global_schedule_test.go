package schedule

import (
	"testing"

	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/stretchr/testify/require"
)

func newSchedule(t *testing.T) *Schedule {
	t.Helper()
	layout, err := record.NewLayout([]record.TableDefinition{{TableID: 0, NumRecords: 8}})
	require.NoError(t, err)
	return New(layout, 256, 0)
}

func newAction(t *testing.T, id uint64, writes, reads []uint64) *transaction.Action {
	t.Helper()
	var w, r []record.Key
	for _, k := range writes {
		w = append(w, record.Key{Key: k})
	}
	for _, k := range reads {
		r = append(r, record.Key{Key: k})
	}
	act, err := transaction.NewWithKeys(id, w, r, nil)
	require.NoError(t, err)
	return act
}

func merge(t *testing.T, s *Schedule, actions ...*transaction.Action) {
	t.Helper()
	blt := s.NewBatchLockTable()
	for _, a := range actions {
		require.NoError(t, blt.InsertLockRequest(a))
	}
	require.NoError(t, s.MergeIntoGlobalSchedule(blt))
}

func TestFinalizeExecutionOfAction_PassesLocks(t *testing.T) {
	s := newSchedule(t)
	r1 := newAction(t, 1, nil, []uint64{1})
	r2 := newAction(t, 2, []uint64{2}, []uint64{1})
	w := newAction(t, 3, []uint64{1}, nil)

	merge(t, s, r1, r2)
	merge(t, s, w)

	require.True(t, r1.ReadyToExecute())
	require.True(t, r2.ReadyToExecute())
	require.False(t, w.ReadyToExecute())

	require.NoError(t, s.FinalizeExecutionOfAction(r1))
	require.False(t, w.ReadyToExecute(), "shared stage still has a running member")

	head, err := s.StageHoldingLockFor(record.Key{Key: 1})
	require.NoError(t, err)
	require.Equal(t, locktable.Shared, head.LockType())

	require.NoError(t, s.FinalizeExecutionOfAction(r2))
	require.True(t, w.ReadyToExecute())

	head, err = s.StageHoldingLockFor(record.Key{Key: 1})
	require.NoError(t, err)
	require.Equal(t, []*transaction.Action{w}, head.Requesters())

	require.NoError(t, s.FinalizeExecutionOfAction(w))
	head, err = s.StageHoldingLockFor(record.Key{Key: 1})
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestFinalizeExecutionOfAction_RejectsNonHolder(t *testing.T) {
	s := newSchedule(t)
	a := newAction(t, 1, []uint64{4}, nil)
	b := newAction(t, 2, []uint64{4}, nil)
	merge(t, s, a)
	merge(t, s, b)

	require.ErrorIs(t, s.FinalizeExecutionOfAction(b), locktable.ErrNotStageMember)

	idle := newAction(t, 3, []uint64{6}, nil)
	require.ErrorIs(t, s.FinalizeExecutionOfAction(idle), locktable.ErrEmptyLockQueue)
}

func TestSchedule_Reset(t *testing.T) {
	s := newSchedule(t)
	merge(t, s, newAction(t, 1, []uint64{1, 2}, []uint64{3}))
	require.Equal(t, 3, s.Table().QueuedStages())

	s.Reset()
	require.Zero(t, s.Table().QueuedStages())

	a := newAction(t, 2, []uint64{1}, nil)
	merge(t, s, a)
	require.True(t, a.ReadyToExecute())
}
