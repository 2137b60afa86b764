package scheduler

import (
	"time"

	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// ThreadBatch is a raw batch assigned to one scheduler thread.
type ThreadBatch struct {
	ID      uint64
	Actions []*transaction.Action
}

// AwaitingBatch is a scheduled batch travelling from its scheduler thread
// through the merging stages to execution. Exactly one goroutine owns it at
// any time.
type AwaitingBatch struct {
	ID        uint64
	LockTable *locktable.BatchLockTable
	// Workload lists the actions packing by packing, least contended first.
	Workload []*transaction.Action
	Packings int

	assigned time.Time
}

// ExecutionSystem receives scheduled workloads in batch id order.
type ExecutionSystem interface {
	// SignalExecutionThreads hands an ordered workload to the executors. It
	// returns false if the execution side stopped before accepting it.
	SignalExecutionThreads(workload []*transaction.Action) bool
}
