// Package supervisor assembles the engine: record storage, the global
// schedule, the scheduler pool and the executor pool.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kyungjunlee/multiversioning/core/executor"
	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/schedule"
	"github.com/kyungjunlee/multiversioning/core/scheduler"
	"github.com/kyungjunlee/multiversioning/core/storage_engine/memstore"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/diagnostics"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrSystemRunning    = errors.New("engine is running")
	ErrSystemNotRunning = errors.New("engine is not running")
	ErrInputQueueFull   = errors.New("input queue cannot hold the workload")
)

// Supervisor owns one engine instance.
type Supervisor struct {
	cfg     Config
	logger  *zap.Logger
	metrics *internaltelemetry.EngineMetrics
	tracer  trace.Tracer

	layout   *record.Layout
	store    *memstore.Store
	schedule *schedule.Schedule
	execs    *executor.Manager
	scheds   *scheduler.Manager

	mu      sync.Mutex
	running bool
	runID   uuid.UUID
}

// Option customises a Supervisor.
type Option func(*Supervisor)

func WithMetrics(m *internaltelemetry.EngineMetrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// New validates cfg and wires the engine. Nothing runs until Start.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withBackend()

	s := &Supervisor{
		cfg:    cfg,
		logger: logger.Named("supervisor"),
		runID:  uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = internaltelemetry.NewNoopEngineMetrics()
	}

	var err error
	if s.layout, err = record.NewLayout(cfg.Tables); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.store = memstore.New(s.layout)
	s.schedule = schedule.New(s.layout, cfg.MaxLockStages, cfg.MaxRequestersPerStage)

	if s.execs, err = executor.NewManager(cfg.Executor, s.schedule, s.store, logger, s.metrics); err != nil {
		return nil, err
	}
	schedOpts := []scheduler.Option{scheduler.WithMetrics(s.metrics)}
	if s.tracer != nil {
		schedOpts = append(schedOpts, scheduler.WithTracer(s.tracer))
	}
	if s.scheds, err = scheduler.NewManager(cfg.Scheduler, s.schedule, s.execs, logger, schedOpts...); err != nil {
		return nil, err
	}

	s.logger.Info("Engine initialized",
		zap.String("run_id", s.runID.String()),
		zap.Int("records", s.layout.Size()),
		zap.Int("tables", len(cfg.Tables)),
	)
	return s, nil
}

// Start launches the executors, then the schedulers.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSystemRunning
	}
	if err := s.execs.Start(); err != nil {
		return err
	}
	if err := s.scheds.Start(ctx); err != nil {
		return errors.Join(err, s.execs.Stop())
	}
	s.running = true
	return nil
}

// Stop halts both pools. Executors stop first so that a scheduler blocked
// handing work to a full executor queue is released.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	execErr := s.execs.Stop()
	schedErr := s.scheds.Stop()
	s.running = false
	return errors.Join(schedErr, execErr)
}

// Running reports whether the engine is started.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the first fatal error of either pool.
func (s *Supervisor) Err() error {
	return errors.Join(s.scheds.Err(), s.execs.Err())
}

func (s *Supervisor) validate(act *transaction.Action) error {
	act.Seal()
	if act.Weight() > s.cfg.MaxRWSetSize {
		return fmt.Errorf("action %d: %w: %d locks, limit %d", act.ID, transaction.ErrRWSetFull, act.Weight(), s.cfg.MaxRWSetSize)
	}
	for _, keys := range [2][]record.Key{act.WriteSet(), act.ReadSet()} {
		for _, k := range keys {
			if !s.layout.Contains(k) {
				return fmt.Errorf("action %d, record %s: %w", act.ID, k, locktable.ErrUnknownRecord)
			}
		}
	}
	return nil
}

// AddAction validates act and queues it for scheduling. The engine must be
// running; use SetSimulationWorkload to preload a stopped engine.
func (s *Supervisor) AddAction(act *transaction.Action) error {
	if err := s.validate(act); err != nil {
		return err
	}
	if !s.Running() {
		return ErrSystemNotRunning
	}
	return s.scheds.AddAction(act)
}

// Flush publishes the partially filled batch.
func (s *Supervisor) Flush() error {
	if !s.Running() {
		return ErrSystemNotRunning
	}
	return s.scheds.Flush()
}

// SetSimulationWorkload queues a whole workload. On a stopped engine the
// workload must fit the input queue; on a running one it is streamed in and
// flushed.
func (s *Supervisor) SetSimulationWorkload(actions []*transaction.Action) error {
	for _, act := range actions {
		if err := s.validate(act); err != nil {
			return err
		}
	}
	if s.Running() {
		for _, act := range actions {
			if err := s.scheds.AddAction(act); err != nil {
				return err
			}
		}
		return s.scheds.Flush()
	}
	if n := s.scheds.Inputs().TryAddBatch(actions); n < len(actions) {
		return fmt.Errorf("%w: queued %d of %d actions", ErrInputQueueFull, n, len(actions))
	}
	return nil
}

// GetOutput returns one chunk of executed actions, or nil if none is ready.
func (s *Supervisor) GetOutput() []*transaction.Action {
	chunk, _ := s.execs.TryGetDoneBatch()
	return chunk
}

// WaitForOutput collects executed actions until at least n have been seen.
func (s *Supervisor) WaitForOutput(ctx context.Context, n int) ([]*transaction.Action, error) {
	out := make([]*transaction.Action, 0, n)
	for len(out) < n {
		chunk, err := s.execs.GetDoneBatch(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// RunWorkload streams actions through a running engine and waits until all
// of them executed.
func (s *Supervisor) RunWorkload(ctx context.Context, actions []*transaction.Action) ([]*transaction.Action, error) {
	if !s.Running() {
		return nil, ErrSystemNotRunning
	}
	if err := s.SetSimulationWorkload(actions); err != nil {
		return nil, err
	}
	return s.WaitForOutput(ctx, len(actions))
}

// Reset returns a stopped engine to its initial state: empty queues, an
// empty schedule, zeroed records and a new run id. Actions to be replayed
// must be reset by the caller.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSystemRunning
	}
	if err := s.scheds.Reset(); err != nil {
		return err
	}
	if err := s.execs.Reset(); err != nil {
		return err
	}
	s.schedule.Reset()
	s.store.Reset()
	s.runID = uuid.New()
	s.logger.Info("Engine reset", zap.String("run_id", s.runID.String()))
	return nil
}

// RunID identifies the current run in logs and reports.
func (s *Supervisor) RunID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *Supervisor) Storage() *memstore.Store     { return s.store }
func (s *Supervisor) Layout() *record.Layout       { return s.layout }
func (s *Supervisor) Schedule() *schedule.Schedule { return s.schedule }
func (s *Supervisor) Config() Config               { return s.cfg }

// Diagnostics snapshots the scheduler timing statistics.
func (s *Supervisor) Diagnostics() diagnostics.GlobalSchedulerDiag {
	return s.scheds.Diagnostics()
}

// SchedulerStates returns the state of every scheduler thread.
func (s *Supervisor) SchedulerStates() []scheduler.State {
	return s.scheds.States()
}
