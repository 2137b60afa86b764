package scheduler

import (
	"fmt"
	"time"

	"github.com/kyungjunlee/multiversioning/internal/queue"
)

// Config holds the knobs of the scheduling side of the engine.
type Config struct {
	// Threads is the number of scheduler goroutines building batch schedules.
	Threads int `yaml:"threads"`
	// HelperThreads is the number of extra goroutines that only merge.
	HelperThreads int `yaml:"helper_threads"`
	// BatchSize is the number of actions per batch.
	BatchSize int `yaml:"batch_size"`
	// BatchTimeout flushes a partially filled batch after this long. Zero
	// disables the periodic flush; Flush must then be called explicitly.
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// MergingShards is the number of key ranges the global merge is split into.
	MergingShards int `yaml:"merging_shards"`
	// PinThreads locks every scheduler goroutine to its own OS thread.
	PinThreads bool `yaml:"pin_threads"`
	// FirstPinCPU is the first CPU id handed out when pinning.
	FirstPinCPU int `yaml:"first_pin_cpu"`
	// InputQueueCapacity bounds the number of batches waiting for a thread.
	InputQueueCapacity int `yaml:"input_queue_capacity"`
	// PendingQueueCapacity bounds the created batches a thread may have
	// waiting for the collector.
	PendingQueueCapacity int `yaml:"pending_queue_capacity"`
	// StageQueueCapacity bounds each merging stage's queue.
	StageQueueCapacity int `yaml:"stage_queue_capacity"`
	// Diagnostics enables per-thread timing statistics.
	Diagnostics bool `yaml:"diagnostics"`
	// Backend selects the queue implementation.
	Backend queue.Backend `yaml:"-"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Threads:              2,
		HelperThreads:        0,
		BatchSize:            1000,
		MergingShards:        1,
		InputQueueCapacity:   1024,
		PendingQueueCapacity: 16,
		StageQueueCapacity:   16,
		Backend:              queue.BackendSpin,
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Threads < 1:
		return fmt.Errorf("%w: scheduler threads must be at least 1", ErrInvalidConfig)
	case c.HelperThreads < 0:
		return fmt.Errorf("%w: helper threads cannot be negative", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	case c.BatchTimeout < 0:
		return fmt.Errorf("%w: batch timeout cannot be negative", ErrInvalidConfig)
	case c.MergingShards < 1:
		return fmt.Errorf("%w: merging shards must be at least 1", ErrInvalidConfig)
	case c.InputQueueCapacity < 1, c.PendingQueueCapacity < 1, c.StageQueueCapacity < 1:
		return fmt.Errorf("%w: queue capacities must be positive", ErrInvalidConfig)
	}
	return nil
}
