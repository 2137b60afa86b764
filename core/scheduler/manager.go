package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyungjunlee/multiversioning/core/schedule"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/diagnostics"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns the scheduler threads and serialises the two shared steps of
// the pipeline: merging batch lock tables into the global schedule and
// signaling the executors. Both happen in strictly increasing batch id
// order, whatever order the threads finish their batches in.
type Manager struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *internaltelemetry.EngineMetrics
	tracer   trace.Tracer
	schedule schedule.GlobalSchedule
	exec     ExecutionSystem

	inputs  *InputQueues
	threads []*Thread
	helpers []*Helper

	// pending holds each thread's created batches until collected.
	pending []queue.Queue[*AwaitingBatch]

	collectLock    spin.TryLock
	sorted         []*AwaitingBatch // guarded by collectLock
	expectedNextID uint64           // guarded by collectLock

	stages        []*mergingStage
	readyToSignal queue.Queue[*AwaitingBatch]

	signalLock   spin.TryLock
	nextSignalID uint64         // guarded by signalLock
	unsignaled   *AwaitingBatch // guarded by signalLock; refused by a stopped executor
	signaled     atomic.Uint64

	mu      sync.Mutex
	running bool
	stop    atomic.Pointer[spin.Signal]
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc

	errOnce  sync.Once
	fatalErr atomic.Pointer[error]
}

// Option customises a Manager.
type Option func(*Manager)

// WithMetrics records pipeline metrics on m.
func WithMetrics(metrics *internaltelemetry.EngineMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = metrics }
}

// WithTracer emits one span per scheduled batch.
func WithTracer(tracer trace.Tracer) Option {
	return func(mgr *Manager) { mgr.tracer = tracer }
}

// NewManager creates the scheduler pool. Scheduled workloads are handed to
// exec in batch id order.
func NewManager(cfg Config, sched schedule.GlobalSchedule, exec ExecutionSystem, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	shards, err := sched.Layout().Shards(min(cfg.MergingShards, sched.Layout().Size()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		schedule: sched,
		exec:     exec,
		pending:  make([]queue.Queue[*AwaitingBatch], cfg.Threads),
	}
	m.stop.Store(spin.NewSignal())
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = internaltelemetry.NewNoopEngineMetrics()
	}
	if m.tracer == nil {
		m.tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if m.inputs, err = newInputQueues(cfg, m.logger, m.onAssign); err != nil {
		return nil, err
	}
	for i := range m.pending {
		if m.pending[i], err = queue.New[*AwaitingBatch](cfg.Backend, cfg.PendingQueueCapacity); err != nil {
			return nil, err
		}
	}
	if m.stages, err = newMergingStages(m, shards); err != nil {
		return nil, err
	}
	if m.readyToSignal, err = queue.New[*AwaitingBatch](cfg.Backend, cfg.StageQueueCapacity); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Threads; i++ {
		m.threads = append(m.threads, newThread(i, m))
	}
	for i := 0; i < cfg.HelperThreads; i++ {
		m.helpers = append(m.helpers, newHelper(i, m))
	}
	return m, nil
}

func (m *Manager) onAssign(b *ThreadBatch) {
	m.metrics.InFlightBatches.Add(context.Background(), 1)
}

// Start launches the scheduler and helper goroutines.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrRunning
	}

	for _, t := range m.threads {
		t.rewind()
	}

	stop := spin.NewSignal()
	m.stop.Store(stop)
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.group, _ = errgroup.WithContext(m.ctx)

	go func() {
		select {
		case <-m.ctx.Done():
			stop.Request()
		case <-stop.Done():
		}
	}()

	for _, t := range m.threads {
		m.group.Go(func() error { return t.run(m.ctx, stop) })
	}
	for _, h := range m.helpers {
		m.group.Go(func() error { return h.run(stop) })
	}
	m.inputs.startFlusher(stop, m.cfg.BatchTimeout)
	m.running = true

	m.logger.Info("Scheduler manager started",
		zap.Int("threads", len(m.threads)),
		zap.Int("helpers", len(m.helpers)),
		zap.Int("merging_shards", len(m.stages)),
		zap.Int("batch_size", m.cfg.BatchSize),
		zap.String("queue_backend", string(m.cfg.Backend)),
	)
	return nil
}

// Stop raises the stop signal and waits for every goroutine to exit. It
// returns the first fatal error a goroutine hit, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return m.Err()
	}
	m.stop.Load().Request()
	m.inputs.stopFlusher()
	err := m.group.Wait()
	m.cancel()
	m.running = false
	m.logger.Info("Scheduler manager stopped")
	if err != nil {
		return err
	}
	return m.Err()
}

// Running reports whether the goroutines are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reset discards every queued or in-flight batch, restarts batch numbering
// and clears diagnostics. The manager must be stopped.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrRunning
	}
	m.inputs.reset()
	for _, q := range m.pending {
		queue.Drain(q)
	}
	m.sorted = nil
	m.expectedNextID = 0
	for _, s := range m.stages {
		queue.Drain(s.queue)
		s.carry = nil
	}
	queue.Drain(m.readyToSignal)
	m.unsignaled = nil
	m.nextSignalID = 0
	m.signaled.Store(0)
	for _, t := range m.threads {
		t.reset()
	}
	m.errOnce = sync.Once{}
	m.fatalErr.Store(nil)
	return nil
}

// fail records the first fatal error and stops the pipeline.
func (m *Manager) fail(err error) {
	m.errOnce.Do(func() {
		m.fatalErr.Store(&err)
		m.logger.Error("Scheduler pipeline failed, stopping", zap.Error(err))
	})
	m.stop.Load().Request()
}

// Err returns the fatal error that stopped the pipeline, if any.
func (m *Manager) Err() error {
	if p := m.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// AddAction queues act for scheduling.
func (m *Manager) AddAction(act *transaction.Action) error {
	if !m.inputs.AddAction(m.stop.Load(), act) {
		return ErrNotRunning
	}
	return nil
}

// Flush publishes the partially filled batch.
func (m *Manager) Flush() error {
	if !m.inputs.Flush(m.stop.Load()) {
		return ErrNotRunning
	}
	return nil
}

// Inputs exposes the input queues.
func (m *Manager) Inputs() *InputQueues { return m.inputs }

// RequestInput spins until a batch is assigned to thread t. While waiting it
// helps move created batches along. It returns false once stop is raised.
func (m *Manager) RequestInput(t *Thread, stop *spin.Signal) (*ThreadBatch, bool) {
	var backoff spin.Backoff
	for {
		b, ok, err := m.inputs.tryObtainBatch(t.index)
		if err != nil {
			m.fail(err)
			return nil, false
		}
		if ok {
			return b, true
		}
		if stop.Requested() {
			return nil, false
		}
		if m.ProcessCreatedBatches() {
			backoff.Reset()
		} else {
			backoff.Wait()
		}
	}
}

// RegisterCreatedBatch queues a created batch for the collector. When the
// thread's pending queue is full it works on the pipeline until there is
// room.
func (m *Manager) RegisterCreatedBatch(t *Thread, b *AwaitingBatch, stop *spin.Signal) bool {
	var backoff spin.Backoff
	for !m.pending[t.index].TryPush(b) {
		if stop.Requested() {
			return false
		}
		if m.ProcessCreatedBatches() {
			backoff.Reset()
		} else {
			backoff.Wait()
		}
	}
	return true
}

// HandBatchToExecution registers b and pushes the pipeline forward.
func (m *Manager) HandBatchToExecution(t *Thread, b *AwaitingBatch, stop *spin.Signal) bool {
	if !m.RegisterCreatedBatch(t, b, stop) {
		return false
	}
	m.ProcessCreatedBatches()
	return true
}

// ProcessCreatedBatches runs one pass of every pipeline step the caller can
// lock: collecting, each merging stage, and signaling. Steps held by other
// goroutines are skipped. It returns whether any batch moved.
func (m *Manager) ProcessCreatedBatches() bool {
	progressed := m.mergeCreatedBatches()
	return m.signalMergedBatches() || progressed
}

func (m *Manager) mergeCreatedBatches() bool {
	progressed := m.collect()
	for _, s := range m.stages {
		moved, err := m.processStage(s)
		if err != nil {
			m.fail(fmt.Errorf("merging stage %d: %w", s.index, err))
			return progressed
		}
		progressed = progressed || moved
	}
	return progressed
}

// collect moves created batches into the first merging stage in batch id
// order. A batch whose predecessor has not been created yet waits.
func (m *Manager) collect() bool {
	if !m.collectLock.TryLock() {
		return false
	}
	defer m.collectLock.Unlock()

	for _, q := range m.pending {
		for {
			b, ok := q.TryPop()
			if !ok {
				break
			}
			i, _ := slices.BinarySearchFunc(m.sorted, b.ID, func(a *AwaitingBatch, id uint64) int {
				switch {
				case a.ID < id:
					return -1
				case a.ID > id:
					return 1
				}
				return 0
			})
			m.sorted = slices.Insert(m.sorted, i, b)
		}
	}

	progressed := false
	first := m.stages[0]
	for len(m.sorted) > 0 && m.sorted[0].ID == m.expectedNextID {
		if !first.queue.TryPush(m.sorted[0]) {
			break
		}
		m.sorted[0] = nil
		m.sorted = m.sorted[1:]
		m.expectedNextID++
		progressed = true
	}
	if len(m.sorted) == 0 {
		m.sorted = nil
	}
	return progressed
}

// signalMergedBatches hands fully merged batches to the executors.
func (m *Manager) signalMergedBatches() bool {
	if !m.signalLock.TryLock() {
		return false
	}
	defer m.signalLock.Unlock()

	progressed := false
	for {
		b := m.unsignaled
		m.unsignaled = nil
		if b == nil {
			var ok bool
			if b, ok = m.readyToSignal.TryPop(); !ok {
				return progressed
			}
		}
		if b.ID != m.nextSignalID {
			m.fail(fmt.Errorf("%w: got %d, expected %d", ErrOutOfOrderBatch, b.ID, m.nextSignalID))
			return progressed
		}
		if !m.exec.SignalExecutionThreads(b.Workload) {
			// Execution stopped; retried once it is running again.
			m.unsignaled = b
			return progressed
		}
		m.nextSignalID++
		m.signaled.Add(1)
		progressed = true

		ctx := context.Background()
		m.metrics.BatchesSignaledCounter.Add(ctx, 1)
		m.metrics.InFlightBatches.Add(ctx, -1)
		m.logger.Debug("Signaled batch to execution",
			zap.Uint64("batch_id", b.ID),
			zap.Int("actions", len(b.Workload)),
			zap.Duration("latency", time.Since(b.assigned)),
		)
	}
}

// SignaledBatches is the number of batches handed to execution so far.
func (m *Manager) SignaledBatches() uint64 { return m.signaled.Load() }

// States returns the current state of every scheduler thread.
func (m *Manager) States() []State {
	out := make([]State, len(m.threads))
	for i, t := range m.threads {
		out[i] = t.State()
	}
	return out
}

// Diagnostics snapshots the per-thread timing statistics.
func (m *Manager) Diagnostics() diagnostics.GlobalSchedulerDiag {
	var g diagnostics.GlobalSchedulerDiag
	for _, t := range m.threads {
		g.Threads = append(g.Threads, t.diag.Summarize(fmt.Sprintf("scheduler-%d", t.index)))
	}
	return g
}

// Threads returns the scheduler threads.
func (m *Manager) Threads() []*Thread { return m.threads }
