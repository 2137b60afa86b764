package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	"go.uber.org/zap"
)

// InputQueues turns the client's action stream into batches and deals them
// out to the scheduler threads.
//
// Clients append to the current batch; full batches move to the shared
// queue. Each thread has a single-slot queue of its own. A thread finding
// its slot empty tries to take the assignment lock and, if it gets it,
// deals one batch to every other thread with an empty slot and to itself
// last. Batch ids are assigned at that point.
type InputQueues struct {
	logger    *zap.Logger
	batchSize int

	mu         sync.Mutex
	current    []*transaction.Action
	firstAdded time.Time

	shared    queue.Queue[[]*transaction.Action]
	perThread []queue.Queue[*ThreadBatch]

	assignLock  spin.TryLock
	nextBatchID uint64 // guarded by assignLock
	onAssign    func(*ThreadBatch)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newInputQueues(cfg Config, logger *zap.Logger, onAssign func(*ThreadBatch)) (*InputQueues, error) {
	shared, err := queue.New[[]*transaction.Action](cfg.Backend, cfg.InputQueueCapacity)
	if err != nil {
		return nil, err
	}
	iq := &InputQueues{
		logger:    logger,
		batchSize: cfg.BatchSize,
		shared:    shared,
		perThread: make([]queue.Queue[*ThreadBatch], cfg.Threads),
		onAssign:  onAssign,
	}
	for i := range iq.perThread {
		if iq.perThread[i], err = queue.New[*ThreadBatch](cfg.Backend, 1); err != nil {
			return nil, err
		}
	}
	return iq, nil
}

// AddAction appends act to the current batch and publishes the batch once it
// is full. It returns false if stop was raised while the shared queue was
// full.
func (iq *InputQueues) AddAction(stop *spin.Signal, act *transaction.Action) bool {
	iq.mu.Lock()
	defer iq.mu.Unlock()

	if len(iq.current) == 0 {
		iq.firstAdded = time.Now()
		iq.current = make([]*transaction.Action, 0, iq.batchSize)
	}
	iq.current = append(iq.current, act)
	if len(iq.current) < iq.batchSize {
		return true
	}
	return iq.publishLocked(stop)
}

// TryAddBatch publishes actions as batches without blocking. It returns the
// number of actions published; the rest did not fit.
func (iq *InputQueues) TryAddBatch(actions []*transaction.Action) int {
	iq.mu.Lock()
	defer iq.mu.Unlock()

	added := 0
	for added < len(actions) {
		end := min(added+iq.batchSize, len(actions))
		if !iq.shared.TryPush(actions[added:end:end]) {
			break
		}
		added = end
	}
	return added
}

// Flush publishes the current batch even if it is not full.
func (iq *InputQueues) Flush(stop *spin.Signal) bool {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	if len(iq.current) == 0 {
		return true
	}
	return iq.publishLocked(stop)
}

func (iq *InputQueues) publishLocked(stop *spin.Signal) bool {
	if !iq.shared.Push(stop, iq.current) {
		return false
	}
	iq.current = nil
	return true
}

// PendingActions is the size of the batch being filled.
func (iq *InputQueues) PendingActions() int {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	return len(iq.current)
}

// QueuedBatches is the number of published batches not yet dealt out.
func (iq *InputQueues) QueuedBatches() int { return iq.shared.Len() }

// tryObtainBatch returns the batch assigned to thread, dealing out a round
// of batches first if the assignment lock is free.
func (iq *InputQueues) tryObtainBatch(thread int) (*ThreadBatch, bool, error) {
	if b, ok := iq.perThread[thread].TryPop(); ok {
		return b, true, nil
	}
	if !iq.assignLock.TryLock() {
		return nil, false, nil
	}
	err := iq.distribute(thread)
	iq.assignLock.Unlock()
	if err != nil {
		return nil, false, err
	}
	b, ok := iq.perThread[thread].TryPop()
	return b, ok, nil
}

// distribute must be called with the assignment lock held.
func (iq *InputQueues) distribute(self int) error {
	for i := range iq.perThread {
		if i == self {
			continue
		}
		ok, err := iq.assignTo(i)
		if err != nil || !ok {
			return err
		}
	}
	_, err := iq.assignTo(self)
	return err
}

// assignTo deals one batch to thread if its slot is empty. It returns false
// when the shared queue ran dry.
func (iq *InputQueues) assignTo(thread int) (bool, error) {
	if iq.perThread[thread].Len() > 0 {
		return true, nil
	}
	actions, ok := iq.shared.TryPop()
	if !ok {
		return false, nil
	}
	b := &ThreadBatch{ID: iq.nextBatchID, Actions: actions}
	// Only the lock holder pushes, so an empty slot always has room. A
	// refused push would leave a gap in the batch ids.
	if !iq.perThread[thread].TryPush(b) {
		return false, fmt.Errorf("%w: batch %d to thread %d", ErrBatchNotAssigned, b.ID, thread)
	}
	iq.nextBatchID++
	if iq.onAssign != nil {
		iq.onAssign(b)
	}
	return true, nil
}

// startFlusher publishes partially filled batches older than timeout.
func (iq *InputQueues) startFlusher(stop *spin.Signal, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	iq.stopChan = make(chan struct{})
	iq.wg.Add(1)
	go iq.flusher(stop, timeout)
}

func (iq *InputQueues) flusher(stop *spin.Signal, timeout time.Duration) {
	defer iq.wg.Done()
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-iq.stopChan:
			return
		case <-ticker.C:
			iq.mu.Lock()
			if len(iq.current) > 0 && time.Since(iq.firstAdded) >= timeout {
				n := len(iq.current)
				if iq.publishLocked(stop) {
					iq.logger.Debug("Flushed partial batch on timeout", zap.Int("actions", n))
				}
			}
			iq.mu.Unlock()
		}
	}
}

func (iq *InputQueues) stopFlusher() {
	if iq.stopChan == nil {
		return
	}
	close(iq.stopChan)
	iq.wg.Wait()
	iq.stopChan = nil
}

// reset drops every queued action and restarts batch numbering. Callers
// must make sure no goroutine uses the queues.
func (iq *InputQueues) reset() {
	iq.mu.Lock()
	iq.current = nil
	iq.mu.Unlock()
	queue.Drain(iq.shared)
	for _, q := range iq.perThread {
		queue.Drain(q)
	}
	iq.nextBatchID = 0
}
