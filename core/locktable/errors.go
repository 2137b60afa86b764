package locktable

import "errors"

// --- Error Definitions ---

var (
	ErrStagePoolExhausted = errors.New("lock stage pool exhausted")
	ErrStaleStage         = errors.New("lock stage handle is stale")
	ErrNotStageMember     = errors.New("action is not a member of the lock stage")
	ErrUnknownRecord      = errors.New("record is not part of the lock table layout")
	ErrEmptyLockQueue     = errors.New("lock queue is empty")
	ErrStageWithoutLock   = errors.New("lock stage does not hold the lock")
)
