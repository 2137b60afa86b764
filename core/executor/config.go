package executor

import (
	"errors"
	"fmt"

	"github.com/kyungjunlee/multiversioning/internal/queue"
)

var (
	ErrInvalidConfig = errors.New("invalid executor configuration")
	ErrRunning       = errors.New("executor manager is running")
	ErrStopped       = errors.New("executor stopped")
)

// Config holds the knobs of the execution side of the engine.
type Config struct {
	// Threads is the number of executor goroutines.
	Threads int `yaml:"threads"`
	// PinThreads locks every executor goroutine to its own OS thread.
	PinThreads bool `yaml:"pin_threads"`
	// FirstPinCPU is the first CPU id handed out when pinning.
	FirstPinCPU int `yaml:"first_pin_cpu"`
	// InputQueueCapacity and OutputQueueCapacity bound, in workload chunks,
	// the queues of each executor.
	InputQueueCapacity  int `yaml:"input_queue_capacity"`
	OutputQueueCapacity int `yaml:"output_queue_capacity"`
	// MaxBlockerDepth bounds how deep an executor follows the chain of
	// actions blocking the one it wants to run. Zero disables it.
	MaxBlockerDepth int `yaml:"max_blocker_depth"`
	// Backend selects the queue implementation.
	Backend queue.Backend `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Threads:             2,
		InputQueueCapacity:  256,
		OutputQueueCapacity: 4096,
		MaxBlockerDepth:     16,
		Backend:             queue.BackendSpin,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Threads < 1:
		return fmt.Errorf("%w: executor threads must be at least 1", ErrInvalidConfig)
	case c.InputQueueCapacity < 1, c.OutputQueueCapacity < 1:
		return fmt.Errorf("%w: queue capacities must be positive", ErrInvalidConfig)
	case c.MaxBlockerDepth < 0:
		return fmt.Errorf("%w: max blocker depth cannot be negative", ErrInvalidConfig)
	}
	return nil
}
