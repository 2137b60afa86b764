package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kyungjunlee/multiversioning/core/packing"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/diagnostics"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Thread is one scheduler goroutine: it takes a raw batch, packs it, builds
// the batch lock table and hands the result to the manager.
//
// The state is written only by the thread itself; any goroutine may read it.
type Thread struct {
	index   int
	manager *Manager
	logger  *zap.Logger
	packer  *packing.Packer
	state   atomic.Uint32
	diag    diagnostics.SchedulerDiag

	// parked is a created batch a stop kept from being registered. It is
	// registered first when the thread runs again.
	parked *AwaitingBatch
}

func newThread(index int, m *Manager) *Thread {
	return &Thread{
		index:   index,
		manager: m,
		logger:  m.logger.With(zap.Int("thread", index)),
		packer:  packing.NewPacker(),
	}
}

// Index is the position of the thread in the pool.
func (t *Thread) Index() int { return t.index }

// State returns the thread's current state.
func (t *Thread) State() State { return State(t.state.Load()) }

// ChangeState moves the thread from expected to the state that follows it.
func (t *Thread) ChangeState(expected State) error {
	next := expected.next()
	if !t.state.CompareAndSwap(uint32(expected), uint32(next)) {
		return fmt.Errorf("thread %d: %w: %s -> %s (current %s)", t.index, ErrInvalidTransition, expected, next, t.State())
	}
	return nil
}

// Diagnostics returns the thread's timing statistics.
func (t *Thread) Diagnostics() *diagnostics.SchedulerDiag { return &t.diag }

// ProcessBatch packs batch and builds its lock table. Actions are appended
// to the workload and to the lock table packing by packing.
func (t *Thread) ProcessBatch(batch *ThreadBatch) (*AwaitingBatch, error) {
	blt := t.manager.schedule.NewBatchLockTable()
	workload := make([]*transaction.Action, 0, len(batch.Actions))
	packings := t.packer.Pack(batch.Actions)
	for _, p := range packings {
		for _, act := range p {
			if err := blt.InsertLockRequest(act); err != nil {
				return nil, fmt.Errorf("batch %d, action %d: %w", batch.ID, act.ID, err)
			}
			workload = append(workload, act)
		}
	}
	return &AwaitingBatch{
		ID:        batch.ID,
		LockTable: blt,
		Workload:  workload,
		Packings:  len(packings),
	}, nil
}

func (t *Thread) run(ctx context.Context, stop *spin.Signal) error {
	if t.manager.cfg.PinThreads {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t.logger.Debug("Scheduler thread locked to OS thread", zap.Int("cpu_hint", t.manager.cfg.FirstPinCPU+t.index))
	}
	t.logger.Debug("Scheduler thread started")
	defer t.logger.Debug("Scheduler thread stopped")

	for !stop.Requested() {
		if err := t.iterate(ctx, stop); err != nil {
			t.manager.fail(err)
			return err
		}
	}
	return nil
}

// iterate runs one full turn of the state machine. A stop request leaves the
// thread in whatever state it reached; Manager.Start rewinds it.
func (t *Thread) iterate(ctx context.Context, stop *spin.Signal) error {
	diagOn := t.manager.cfg.Diagnostics
	start := time.Now()

	if t.parked != nil {
		if !t.manager.RegisterCreatedBatch(t, t.parked, stop) {
			return nil
		}
		t.logger.Debug("Registered batch held over from the previous run", zap.Uint64("batch_id", t.parked.ID))
		t.parked = nil
	}

	batch, ok := t.manager.RequestInput(t, stop)
	if !ok {
		return nil
	}
	assigned := time.Now()
	if err := t.ChangeState(StateWaitingForInput); err != nil {
		return err
	}

	if err := t.ChangeState(StateInput); err != nil {
		return err
	}
	ab, err := t.processBatchTraced(ctx, batch)
	if err != nil {
		return err
	}
	ab.assigned = assigned
	if diagOn {
		t.diag.TimeCreatingSchedule.AddSince(assigned)
	}

	handOff := time.Now()
	if err := t.ChangeState(StateBatchCreation); err != nil {
		return err
	}
	if !t.manager.RegisterCreatedBatch(t, ab, stop) {
		t.parked = ab
		return nil
	}
	if err := t.ChangeState(StateWaitingToMerge); err != nil {
		return err
	}
	t.manager.mergeCreatedBatches()

	if err := t.ChangeState(StateBatchMerging); err != nil {
		return err
	}
	if err := t.ChangeState(StateWaitingToSignalExecution); err != nil {
		return err
	}
	t.manager.signalMergedBatches()
	if err := t.ChangeState(StateSignalingExecution); err != nil {
		return err
	}

	if diagOn {
		t.diag.TimeHandingOff.AddSince(handOff)
		t.diag.TimePerIteration.AddSince(start)
	}
	return nil
}

func (t *Thread) processBatchTraced(ctx context.Context, batch *ThreadBatch) (*AwaitingBatch, error) {
	_, span := t.manager.tracer.Start(ctx, "scheduler.process_batch", trace.WithAttributes(
		attribute.Int64("batch.id", int64(batch.ID)),
		attribute.Int("batch.actions", len(batch.Actions)),
		attribute.Int("scheduler.thread", t.index),
	))
	defer span.End()

	start := time.Now()
	ab, err := t.ProcessBatch(batch)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("batch.packings", ab.Packings))

	m := t.manager.metrics
	m.BatchesCreatedCounter.Add(ctx, 1)
	m.PackingsPerBatch.Record(ctx, int64(ab.Packings))
	m.ScheduleLatencyHistogram.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	return ab, nil
}

// rewind puts a thread a stop interrupted back at the top of its loop.
func (t *Thread) rewind() {
	if s := t.State(); s != StateWaitingForInput {
		t.logger.Info("Rewinding interrupted scheduler thread", zap.Stringer("state", s))
		t.state.Store(uint32(StateWaitingForInput))
	}
}

func (t *Thread) reset() {
	t.state.Store(uint32(StateWaitingForInput))
	t.parked = nil
	t.diag.Reset()
}
