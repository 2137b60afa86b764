// Package transaction holds the unit of work scheduled by the engine: an
// action with a declared read set and write set.
package transaction

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/kyungjunlee/multiversioning/core/record"
)

// DefaultMaxRWSetSize bounds |read set| + |write set| of a single action.
const DefaultMaxRWSetSize = 300

// Storage is the record store an action's payload runs against.
type Storage interface {
	ReadRecordValue(key record.Key) int64
	WriteRecordValue(key record.Key, value int64)
}

// Runner is the action payload. It is invoked exactly once, while the action
// holds every lock it declared.
type Runner interface {
	Run(act *Action, db Storage)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(act *Action, db Storage)

func (f RunnerFunc) Run(act *Action, db Storage) { f(act, db) }

// Action is an operation with a statically declared read set and write set.
//
// Building an action (AddReadKey, AddWriteKey, Seal) is single threaded.
// Once sealed, the key sets are read-only and only the state and the lock
// counter change, both atomically.
type Action struct {
	ID uint64

	readSet  []record.Key
	writeSet []record.Key
	limit    int
	sealed   bool
	runner   Runner

	state     atomic.Uint32
	locksHeld atomic.Uint64
}

// New creates an empty action with the default read/write set bound.
func New(id uint64, runner Runner) *Action {
	return NewWithLimit(id, DefaultMaxRWSetSize, runner)
}

// NewWithLimit creates an empty action whose combined key sets may not exceed
// limit entries.
func NewWithLimit(id uint64, limit int, runner Runner) *Action {
	if limit <= 0 {
		limit = DefaultMaxRWSetSize
	}
	return &Action{ID: id, limit: limit, runner: runner}
}

// NewWithKeys creates and seals an action in one step.
func NewWithKeys(id uint64, writes, reads []record.Key, runner Runner) (*Action, error) {
	act := New(id, runner)
	for _, k := range writes {
		if err := act.AddWriteKey(k); err != nil {
			return nil, err
		}
	}
	for _, k := range reads {
		if err := act.AddReadKey(k); err != nil {
			return nil, err
		}
	}
	act.Seal()
	return act, nil
}

func (a *Action) addKey(set *[]record.Key, k record.Key) error {
	if a.sealed {
		return fmt.Errorf("action %d: %w", a.ID, ErrActionSealed)
	}
	if len(a.readSet)+len(a.writeSet) >= a.limit {
		return fmt.Errorf("action %d: %w (limit %d)", a.ID, ErrRWSetFull, a.limit)
	}
	*set = append(*set, k)
	return nil
}

// AddReadKey declares a shared lock on k.
func (a *Action) AddReadKey(k record.Key) error { return a.addKey(&a.readSet, k) }

// AddWriteKey declares an exclusive lock on k.
func (a *Action) AddWriteKey(k record.Key) error { return a.addKey(&a.writeSet, k) }

// Seal sorts and de-duplicates both key sets. A key declared in both sets is
// kept only in the write set. Seal is idempotent.
func (a *Action) Seal() {
	if a.sealed {
		return
	}
	a.writeSet = sortUnique(a.writeSet)
	reads := sortUnique(a.readSet)
	a.readSet = reads[:0]
	for _, k := range reads {
		if _, found := slices.BinarySearchFunc(a.writeSet, k, record.Key.Compare); !found {
			a.readSet = append(a.readSet, k)
		}
	}
	a.sealed = true
}

func sortUnique(keys []record.Key) []record.Key {
	slices.SortFunc(keys, record.Key.Compare)
	return slices.Compact(keys)
}

// Sealed reports whether Seal has been called.
func (a *Action) Sealed() bool { return a.sealed }

// ReadSet returns the sorted shared-lock keys. Callers must not modify it.
func (a *Action) ReadSet() []record.Key { return a.readSet }

// WriteSet returns the sorted exclusive-lock keys. Callers must not modify it.
func (a *Action) WriteSet() []record.Key { return a.writeSet }

// Weight is the packing heuristic: the number of locks the action requests.
func (a *Action) Weight() int { return len(a.readSet) + len(a.writeSet) }

// Less orders actions by weight.
func (a *Action) Less(other *Action) bool { return a.Weight() < other.Weight() }

// State returns the current execution state.
func (a *Action) State() ActionState { return ActionState(a.state.Load()) }

// ChangeState atomically moves the action from expected to next. It returns
// false if the action was not in the expected state.
func (a *Action) ChangeState(expected, next ActionState) bool {
	return a.state.CompareAndSwap(uint32(expected), uint32(next))
}

// Claim gives the caller exclusive ownership of the action for execution.
func (a *Action) Claim() bool {
	return a.ChangeState(StateSubstantiated, StateProcessing)
}

// Complete marks a claimed action as executed.
func (a *Action) Complete() error {
	if !a.ChangeState(StateProcessing, StateDone) {
		return fmt.Errorf("action %d: %w: %s -> %s", a.ID, ErrInvalidTransition, a.State(), StateDone)
	}
	return nil
}

// Unclaim hands a claimed action back so that another executor may run it.
func (a *Action) Unclaim() error {
	if !a.ChangeState(StateProcessing, StateSubstantiated) {
		return fmt.Errorf("action %d: %w: %s -> %s", a.ID, ErrInvalidTransition, a.State(), StateSubstantiated)
	}
	return nil
}

// NotifyLockObtained records that one more requested lock was granted and
// returns the previous count.
func (a *Action) NotifyLockObtained() uint64 {
	return a.locksHeld.Add(1) - 1
}

// LocksHeld is the number of granted locks.
func (a *Action) LocksHeld() uint64 { return a.locksHeld.Load() }

// ReadyToExecute reports whether every declared lock has been granted.
func (a *Action) ReadyToExecute() bool {
	return a.locksHeld.Load() == uint64(a.Weight())
}

// Run invokes the payload.
func (a *Action) Run(db Storage) {
	if a.runner != nil {
		a.runner.Run(a, db)
	}
}

// Reset returns the action to its freshly sealed state so that a workload can
// be replayed after the engine is reset.
func (a *Action) Reset() {
	a.state.Store(uint32(StateSubstantiated))
	a.locksHeld.Store(0)
}

func (a *Action) String() string {
	return fmt.Sprintf("action{id=%d w=%v r=%v state=%s locks=%d}", a.ID, a.writeSet, a.readSet, a.State(), a.LocksHeld())
}
