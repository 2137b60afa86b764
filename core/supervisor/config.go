package supervisor

import (
	"errors"
	"fmt"

	"github.com/kyungjunlee/multiversioning/core/executor"
	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/scheduler"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/queue"
)

var ErrInvalidConfig = errors.New("invalid engine configuration")

// Config is the full engine configuration.
type Config struct {
	Tables []record.TableDefinition `yaml:"tables"`
	// QueueBackend is "spin" or "channel".
	QueueBackend queue.Backend `yaml:"queue_backend"`
	// MaxRWSetSize bounds the number of locks a single action may request.
	MaxRWSetSize int `yaml:"max_rw_set_size"`
	// MaxRequestersPerStage bounds the size of shared lock stages.
	MaxRequestersPerStage int `yaml:"max_requesters_per_stage"`
	// MaxLockStages bounds the number of live lock stages.
	MaxLockStages int `yaml:"max_lock_stages"`

	Scheduler scheduler.Config `yaml:"scheduler"`
	Executor  executor.Config  `yaml:"executor"`
}

// DefaultConfig is a single table of 1000 records scheduled by two threads
// and executed by two threads.
func DefaultConfig() Config {
	return Config{
		Tables:                []record.TableDefinition{{TableID: 0, NumRecords: 1000}},
		QueueBackend:          queue.BackendSpin,
		MaxRWSetSize:          transaction.DefaultMaxRWSetSize,
		MaxRequestersPerStage: locktable.DefaultMaxRequestersPerStage,
		MaxLockStages:         locktable.DefaultMaxLockStages,
		Scheduler:             scheduler.DefaultConfig(),
		Executor:              executor.DefaultConfig(),
	}
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("%w: at least one table is required", ErrInvalidConfig)
	}
	switch c.QueueBackend {
	case queue.BackendSpin, queue.BackendChannel:
	default:
		return fmt.Errorf("%w: unknown queue backend %q", ErrInvalidConfig, c.QueueBackend)
	}
	if c.MaxRWSetSize < 1 {
		return fmt.Errorf("%w: max_rw_set_size must be positive", ErrInvalidConfig)
	}
	if c.MaxRequestersPerStage < 1 {
		return fmt.Errorf("%w: max_requesters_per_stage must be positive", ErrInvalidConfig)
	}
	if c.MaxLockStages < 1 {
		return fmt.Errorf("%w: max_lock_stages must be positive", ErrInvalidConfig)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	return c.Executor.Validate()
}

// withBackend propagates the queue backend into both pipeline sections.
func (c Config) withBackend() Config {
	c.Scheduler.Backend = c.QueueBackend
	c.Executor.Backend = c.QueueBackend
	return c
}
