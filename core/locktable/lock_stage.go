// Package locktable implements the per-record lock queues of the global
// schedule: lock stages, the batch-local lock table built by one scheduler
// goroutine, and the global table batches are merged into.
package locktable

import (
	"fmt"
	"sync/atomic"

	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// LockType is the mode all requesters of one stage hold the record in.
type LockType uint8

const (
	Shared LockType = iota
	Exclusive
)

func (t LockType) String() string {
	if t == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// DefaultMaxRequestersPerStage bounds the size of a shared stage.
const DefaultMaxRequestersPerStage = 30

// LockStage is a group of actions holding one record in the same mode at
// the same time. An exclusive stage always has a single requester.
//
// Membership is only mutated by the goroutine building the batch lock table,
// before the stage is merged into the global table. After the merge the
// requester list is read-only; only the lock flag and the remaining counter
// change.
type LockStage struct {
	id         StageID
	lockType   LockType
	capacity   int
	requesters []*transaction.Action

	hasLock   atomic.Bool
	remaining atomic.Int32
}

func newLockStage(id StageID, lockType LockType, capacity int, first *transaction.Action) *LockStage {
	s := &LockStage{
		id:       id,
		lockType: lockType,
		capacity: capacity,
	}
	s.requesters = make([]*transaction.Action, 1, min(capacity, 4))
	s.requesters[0] = first
	s.remaining.Store(1)
	return s
}

func (s *LockStage) ID() StageID        { return s.id }
func (s *LockStage) LockType() LockType { return s.lockType }

// Requesters returns the member actions. Callers must not modify it.
func (s *LockStage) Requesters() []*transaction.Action { return s.requesters }

// AddToStage adds act to the stage if both are shared and the stage has room.
func (s *LockStage) AddToStage(act *transaction.Action, lockType LockType) bool {
	if s.lockType == Exclusive || lockType == Exclusive || len(s.requesters) >= s.capacity {
		return false
	}
	s.requesters = append(s.requesters, act)
	s.remaining.Add(1)
	return true
}

// Contains reports whether act requested this stage.
func (s *LockStage) Contains(act *transaction.Action) bool {
	for _, r := range s.requesters {
		if r == act {
			return true
		}
	}
	return false
}

// HasLock reports whether the stage is at the head of its record's queue.
func (s *LockStage) HasLock() bool { return s.hasLock.Load() }

// Remaining is the number of members that have not finished yet.
func (s *LockStage) Remaining() int { return int(s.remaining.Load()) }

// NotifyLockObtained grants the lock to every member. Only the first call has
// an effect; it returns whether this call granted the lock.
func (s *LockStage) NotifyLockObtained() bool {
	if !s.hasLock.CompareAndSwap(false, true) {
		return false
	}
	for _, act := range s.requesters {
		act.NotifyLockObtained()
	}
	return true
}

// FinalizeAction records that act finished. It returns true when act was the
// last member still running, at which point the stage can be popped.
func (s *LockStage) FinalizeAction(act *transaction.Action) (bool, error) {
	if !s.Contains(act) {
		return false, fmt.Errorf("action %d, stage %s: %w", act.ID, s.id, ErrNotStageMember)
	}
	if !s.hasLock.Load() {
		return false, fmt.Errorf("action %d, stage %s: %w", act.ID, s.id, ErrStageWithoutLock)
	}
	return s.remaining.Add(-1) == 0, nil
}

func (s *LockStage) String() string {
	return fmt.Sprintf("stage{%s %s members=%d remaining=%d lock=%t}",
		s.id, s.lockType, len(s.requesters), s.Remaining(), s.HasLock())
}
