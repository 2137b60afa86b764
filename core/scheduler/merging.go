package scheduler

import (
	"context"
	"time"

	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/kyungjunlee/multiversioning/internal/spin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// mergingStage merges one contiguous key range of every batch into the
// global schedule. Batches pass through the stages in order; each stage is
// driven by whichever goroutine holds its try-lock.
type mergingStage struct {
	index int
	keys  record.KeyRange
	lock  spin.TryLock
	queue queue.Queue[*AwaitingBatch]
	// carry is a merged batch the next stage had no room for. It is only
	// touched while holding lock and blocks the stage until forwarded.
	carry *AwaitingBatch
	attrs metric.MeasurementOption
}

func newMergingStages(m *Manager, shards []record.KeyRange) ([]*mergingStage, error) {
	stages := make([]*mergingStage, len(shards))
	for i, keys := range shards {
		q, err := queue.New[*AwaitingBatch](m.cfg.Backend, m.cfg.StageQueueCapacity)
		if err != nil {
			return nil, err
		}
		stages[i] = &mergingStage{
			index: i,
			keys:  keys,
			queue: q,
			attrs: metric.WithAttributes(attribute.Int("shard", i)),
		}
	}
	return stages, nil
}

// process drains the stage's queue. It returns whether any batch moved and
// an error if the merge violated a lock table invariant.
func (m *Manager) processStage(s *mergingStage) (bool, error) {
	if !s.lock.TryLock() {
		return false, nil
	}
	defer s.lock.Unlock()

	progressed := false
	if s.carry != nil {
		if !m.forward(s, s.carry) {
			return false, nil
		}
		s.carry = nil
		progressed = true
	}
	for {
		b, ok := s.queue.TryPop()
		if !ok {
			return progressed, nil
		}
		start := time.Now()
		if err := m.schedule.MergeIntoGlobalScheduleFor(b.LockTable, s.keys.From, s.keys.To); err != nil {
			return progressed, err
		}
		m.metrics.MergeLatencyHistogram.Record(context.Background(), float64(time.Since(start).Microseconds())/1000, s.attrs)
		progressed = true
		if !m.forward(s, b) {
			s.carry = b
			return progressed, nil
		}
	}
}

// forward hands b to the stage after s, or to the signal queue after the
// last stage.
func (m *Manager) forward(s *mergingStage, b *AwaitingBatch) bool {
	if s.index+1 < len(m.stages) {
		return m.stages[s.index+1].queue.TryPush(b)
	}
	if !m.readyToSignal.TryPush(b) {
		return false
	}
	m.metrics.BatchesMergedCounter.Add(context.Background(), 1)
	return true
}
