// Package schedule exposes the global lock schedule to the scheduler and
// executor pipelines.
package schedule

import (
	"fmt"

	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// GlobalSchedule is the merged, cross-batch lock order of the whole engine.
type GlobalSchedule interface {
	// MergeIntoGlobalSchedule merges every record of blt.
	MergeIntoGlobalSchedule(blt *locktable.BatchLockTable) error
	// MergeIntoGlobalScheduleFor merges the records of blt in [from, to].
	// Calls on disjoint ranges may run concurrently.
	MergeIntoGlobalScheduleFor(blt *locktable.BatchLockTable, from, to record.Key) error
	// StageHoldingLockFor returns the head stage of key, nil if none.
	StageHoldingLockFor(key record.Key) (*locktable.LockStage, error)
	// FinalizeExecutionOfAction releases every lock held by a finished action.
	FinalizeExecutionOfAction(act *transaction.Action) error
	NewBatchLockTable() *locktable.BatchLockTable
	Layout() *record.Layout
	Reset()
}

// Schedule is the GlobalSchedule backed by a locktable.LockTable.
type Schedule struct {
	table *locktable.LockTable
}

var _ GlobalSchedule = (*Schedule)(nil)

// New creates an empty schedule over layout.
func New(layout *record.Layout, maxStages, maxRequestersPerStage int) *Schedule {
	pool := locktable.NewStagePool(maxStages, maxRequestersPerStage)
	return &Schedule{table: locktable.New(layout, pool)}
}

func (s *Schedule) Table() *locktable.LockTable { return s.table }
func (s *Schedule) Layout() *record.Layout      { return s.table.Layout() }

func (s *Schedule) NewBatchLockTable() *locktable.BatchLockTable {
	return s.table.NewBatchLockTable()
}

func (s *Schedule) MergeIntoGlobalSchedule(blt *locktable.BatchLockTable) error {
	return s.table.MergeBatchTable(blt)
}

func (s *Schedule) MergeIntoGlobalScheduleFor(blt *locktable.BatchLockTable, from, to record.Key) error {
	return s.table.MergeBatchTableFor(blt, from, to)
}

func (s *Schedule) StageHoldingLockFor(key record.Key) (*locktable.LockStage, error) {
	return s.table.HeadFor(key)
}

// FinalizeExecutionOfAction walks the write set and the read set of act. For
// each record the head stage must contain act; when act was its last running
// member the lock passes to the next stage.
func (s *Schedule) FinalizeExecutionOfAction(act *transaction.Action) error {
	if err := s.finalizeKeys(act, act.WriteSet()); err != nil {
		return err
	}
	return s.finalizeKeys(act, act.ReadSet())
}

func (s *Schedule) finalizeKeys(act *transaction.Action, keys []record.Key) error {
	for _, k := range keys {
		head, err := s.table.HeadFor(k)
		if err != nil {
			return err
		}
		if head == nil {
			return fmt.Errorf("finalize action %d on %s: %w", act.ID, k, locktable.ErrEmptyLockQueue)
		}
		last, err := head.FinalizeAction(act)
		if err != nil {
			return fmt.Errorf("finalize action %d on %s: %w", act.ID, k, err)
		}
		if last {
			if err := s.table.PassLockToNextStageFor(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Schedule) Reset() { s.table.Reset() }
