package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kyungjunlee/multiversioning/core/schedule"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns the executor pool. Workloads are split into contiguous chunks
// dealt round-robin to the executors; finished chunks are collected
// round-robin as well.
type Manager struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *internaltelemetry.EngineMetrics
	schedule schedule.GlobalSchedule
	storage  transaction.Storage

	executors []*Executor

	inMu      sync.Mutex
	nextInput int
	backlog   []dealtChunk // guarded by inMu; accepted but not yet queued

	outMu      sync.Mutex
	nextOutput int

	mu      sync.Mutex
	running bool
	stop    atomic.Pointer[spin.Signal]
	group   *errgroup.Group

	errOnce  sync.Once
	fatalErr atomic.Pointer[error]
}

type dealtChunk struct {
	executor int
	actions  []*transaction.Action
}

// NewManager creates the executor pool. Actions run against storage and
// release their locks through sched.
func NewManager(cfg Config, sched schedule.GlobalSchedule, storage transaction.Storage, logger *zap.Logger, metrics *internaltelemetry.EngineMetrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = internaltelemetry.NewNoopEngineMetrics()
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("executor"),
		metrics:  metrics,
		schedule: sched,
		storage:  storage,
	}
	m.stop.Store(spin.NewSignal())
	for i := 0; i < cfg.Threads; i++ {
		e, err := newExecutor(i, m)
		if err != nil {
			return nil, err
		}
		m.executors = append(m.executors, e)
	}
	return m, nil
}

// Start launches the executor goroutines.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrRunning
	}
	stop := spin.NewSignal()
	m.stop.Store(stop)
	m.group = &errgroup.Group{}
	for _, e := range m.executors {
		m.group.Go(func() error {
			if err := e.run(stop); err != nil {
				m.fail(err)
				return err
			}
			return nil
		})
	}
	m.running = true
	m.logger.Info("Executor manager started", zap.Int("threads", len(m.executors)))

	m.inMu.Lock()
	m.flushBacklog(stop)
	m.inMu.Unlock()
	return nil
}

// Stop raises the stop signal and waits for the executors to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return m.Err()
	}
	m.stop.Load().Request()
	err := m.group.Wait()
	m.running = false
	m.logger.Info("Executor manager stopped")
	if err != nil {
		return err
	}
	return m.Err()
}

func (m *Manager) fail(err error) {
	m.errOnce.Do(func() {
		m.fatalErr.Store(&err)
		m.logger.Error("Executor failed, stopping", zap.Error(err))
	})
	m.stop.Load().Request()
}

// Err returns the fatal error that stopped the executors, if any.
func (m *Manager) Err() error {
	if p := m.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SignalExecutionThreads splits an ordered workload into contiguous chunks
// of ceil(n/threads) actions and deals them round-robin. It returns false if
// the executors stopped before taking any of it. A workload cut short by a
// stop is accepted; its remaining chunks are queued on the next Start.
func (m *Manager) SignalExecutionThreads(workload []*transaction.Action) bool {
	if len(workload) == 0 {
		return true
	}
	stop := m.stop.Load()
	size := (len(workload) + len(m.executors) - 1) / len(m.executors)

	m.inMu.Lock()
	defer m.inMu.Unlock()
	if !m.flushBacklog(stop) || stop.Requested() {
		return false
	}
	for start := 0; start < len(workload); start += size {
		end := min(start+size, len(workload))
		m.backlog = append(m.backlog, dealtChunk{executor: m.nextInput, actions: workload[start:end:end]})
		m.nextInput = (m.nextInput + 1) % len(m.executors)
	}
	m.flushBacklog(stop)
	return true
}

// flushBacklog queues held chunks in order. It must be called with inMu
// held and reports whether the backlog emptied.
func (m *Manager) flushBacklog(stop *spin.Signal) bool {
	for len(m.backlog) > 0 {
		c := m.backlog[0]
		if !m.executors[c.executor].input.Push(stop, c.actions) {
			return false
		}
		m.backlog[0] = dealtChunk{}
		m.backlog = m.backlog[1:]
	}
	m.backlog = nil
	return true
}

// TryGetDoneBatch returns a finished chunk if one is available, starting
// the search at the executor after the last one read from.
func (m *Manager) TryGetDoneBatch() ([]*transaction.Action, bool) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	for i := range m.executors {
		idx := (m.nextOutput + i) % len(m.executors)
		if chunk, ok := m.executors[idx].output.TryPop(); ok {
			m.nextOutput = (idx + 1) % len(m.executors)
			return chunk, true
		}
	}
	return nil, false
}

// GetDoneBatch waits for a finished chunk.
func (m *Manager) GetDoneBatch(ctx context.Context) ([]*transaction.Action, error) {
	var backoff spin.Backoff
	for {
		if chunk, ok := m.TryGetDoneBatch(); ok {
			return chunk, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.Err(); err != nil {
			return nil, err
		}
		backoff.Wait()
	}
}

// Executors returns the pool.
func (m *Manager) Executors() []*Executor { return m.executors }

// Reset drops every queued chunk. The manager must be stopped.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrRunning
	}
	for _, e := range m.executors {
		e.reset()
	}
	m.inMu.Lock()
	m.backlog = nil
	m.inMu.Unlock()
	m.nextInput, m.nextOutput = 0, 0
	m.errOnce = sync.Once{}
	m.fatalErr.Store(nil)
	return nil
}
