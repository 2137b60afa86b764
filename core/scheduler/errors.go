package scheduler

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid scheduler configuration")
	ErrInvalidTransition = errors.New("invalid scheduler state transition")
	ErrOutOfOrderBatch   = errors.New("batch signaled out of order")
	ErrRunning           = errors.New("scheduler manager is running")
	ErrNotRunning        = errors.New("scheduler manager is not running")
	ErrBatchNotAssigned  = errors.New("batch could not be assigned to its thread")
)
