package scheduler

import (
	"github.com/kyungjunlee/multiversioning/internal/spin"
	"go.uber.org/zap"
)

// Helper is a goroutine that never schedules batches of its own; it only
// drives the collect, merge and signal steps of the pipeline.
type Helper struct {
	index   int
	manager *Manager
	logger  *zap.Logger
}

func newHelper(index int, m *Manager) *Helper {
	return &Helper{
		index:   index,
		manager: m,
		logger:  m.logger.With(zap.Int("helper", index)),
	}
}

func (h *Helper) run(stop *spin.Signal) error {
	h.logger.Debug("Scheduler helper started")
	defer h.logger.Debug("Scheduler helper stopped")

	var backoff spin.Backoff
	for !stop.Requested() {
		if h.manager.ProcessCreatedBatches() {
			backoff.Reset()
			continue
		}
		backoff.Wait()
	}
	return nil
}
