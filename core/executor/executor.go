// Package executor runs scheduled workloads. Executors claim actions, run
// the ones holding every lock and defer the rest until their locks arrive.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/schedule"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"go.uber.org/zap"
)

// Executor is one execution goroutine with its own input and output queue.
type Executor struct {
	index    int
	cfg      Config
	logger   *zap.Logger
	metrics  *internaltelemetry.EngineMetrics
	schedule schedule.GlobalSchedule
	storage  transaction.Storage

	input  queue.Queue[[]*transaction.Action]
	output queue.Queue[[]*transaction.Action]

	// pending holds the actions of the current chunk that were blocked.
	pending []*transaction.Action
	// interrupted is the chunk a stop cut short. It is finished and
	// reported before new input is taken.
	interrupted []*transaction.Action
}

func newExecutor(index int, m *Manager) (*Executor, error) {
	in, err := queue.New[[]*transaction.Action](m.cfg.Backend, m.cfg.InputQueueCapacity)
	if err != nil {
		return nil, err
	}
	out, err := queue.New[[]*transaction.Action](m.cfg.Backend, m.cfg.OutputQueueCapacity)
	if err != nil {
		return nil, err
	}
	return &Executor{
		index:    index,
		cfg:      m.cfg,
		logger:   m.logger.With(zap.Int("executor", index)),
		metrics:  m.metrics,
		schedule: m.schedule,
		storage:  m.storage,
		input:    in,
		output:   out,
	}, nil
}

func (e *Executor) run(stop *spin.Signal) error {
	if e.cfg.PinThreads {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		e.logger.Debug("Executor locked to OS thread", zap.Int("cpu_hint", e.cfg.FirstPinCPU+e.index))
	}
	e.logger.Debug("Executor started")
	defer e.logger.Debug("Executor stopped")

	for {
		chunk := e.interrupted
		e.interrupted = nil
		if chunk == nil {
			var ok bool
			if chunk, ok = e.input.Pop(stop); !ok {
				return nil
			}
		}
		if err := e.ProcessActionBatch(stop, chunk); err != nil {
			if errors.Is(err, ErrStopped) {
				// Finished actions are skipped when the chunk is replayed.
				e.pending = nil
				e.interrupted = chunk
				return nil
			}
			return err
		}
		if !e.output.Push(stop, chunk) {
			e.interrupted = chunk
			return nil
		}
	}
}

// ProcessActionBatch runs every action of chunk. Before each new action the
// deferred ones are retried; the call returns once nothing is deferred.
func (e *Executor) ProcessActionBatch(stop *spin.Signal, chunk []*transaction.Action) error {
	for _, act := range chunk {
		if _, err := e.processPending(); err != nil {
			return err
		}
		done, err := e.ProcessAction(act, 0)
		if err != nil {
			return err
		}
		if !done {
			e.pending = append(e.pending, act)
			e.metrics.ActionsDeferredCounter.Add(context.Background(), 1)
		}
	}

	var backoff spin.Backoff
	for len(e.pending) > 0 {
		progressed, err := e.processPending()
		if err != nil {
			return err
		}
		if progressed {
			backoff.Reset()
			continue
		}
		if stop.Requested() {
			return ErrStopped
		}
		backoff.Wait()
	}
	return nil
}

// processPending retries every deferred action and drops the finished ones.
func (e *Executor) processPending() (bool, error) {
	kept := e.pending[:0]
	progressed := false
	for _, act := range e.pending {
		done, err := e.ProcessAction(act, 0)
		if err != nil {
			return progressed, err
		}
		if done {
			progressed = true
			continue
		}
		kept = append(kept, act)
	}
	clear(e.pending[len(kept):])
	e.pending = kept
	return progressed, nil
}

// ProcessAction tries to run act. It returns true once act is done, by this
// or another executor. A blocked action is handed back after the executor
// tried to run the actions holding its locks.
func (e *Executor) ProcessAction(act *transaction.Action, depth int) (bool, error) {
	if act.State() == transaction.StateDone {
		return true, nil
	}
	if !act.Claim() {
		return false, nil
	}
	if !act.ReadyToExecute() && depth < e.cfg.MaxBlockerDepth {
		if err := e.runBlockers(act, depth); err != nil {
			return false, err
		}
	}
	if !act.ReadyToExecute() {
		return false, act.Unclaim()
	}
	return true, e.execute(act)
}

func (e *Executor) execute(act *transaction.Action) error {
	act.Run(e.storage)
	if err := act.Complete(); err != nil {
		return err
	}
	if err := e.schedule.FinalizeExecutionOfAction(act); err != nil {
		return fmt.Errorf("executor %d: %w", e.index, err)
	}
	e.metrics.ActionsExecutedCounter.Add(context.Background(), 1)
	return nil
}

// runBlockers tries the members of every head stage act is waiting behind.
func (e *Executor) runBlockers(act *transaction.Action, depth int) error {
	for _, keys := range [2][]record.Key{act.WriteSet(), act.ReadSet()} {
		for _, k := range keys {
			head, err := e.schedule.StageHoldingLockFor(k)
			if err != nil {
				return err
			}
			if head == nil || head.Contains(act) {
				continue
			}
			for _, blocker := range head.Requesters() {
				e.metrics.BlockerAttemptsCounter.Add(context.Background(), 1)
				if _, err := e.ProcessAction(blocker, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Executor) reset() {
	queue.Drain(e.input)
	queue.Drain(e.output)
	e.pending = nil
	e.interrupted = nil
}
