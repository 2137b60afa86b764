package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EngineMetrics holds the metric instruments of the scheduling pipeline.
type EngineMetrics struct {
	BatchesCreatedCounter    metric.Int64Counter
	BatchesMergedCounter     metric.Int64Counter
	BatchesSignaledCounter   metric.Int64Counter
	ActionsExecutedCounter   metric.Int64Counter
	ActionsDeferredCounter   metric.Int64Counter
	BlockerAttemptsCounter   metric.Int64Counter
	PackingsPerBatch         metric.Int64Histogram
	ScheduleLatencyHistogram metric.Float64Histogram
	MergeLatencyHistogram    metric.Float64Histogram
	InFlightBatches          metric.Int64UpDownCounter
}

// NewEngineMetrics creates and registers all the metrics of the engine.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.BatchesCreatedCounter, "batchdb.scheduler.batches_created_total", "Total number of batches scheduled by scheduler threads."},
		{&m.BatchesMergedCounter, "batchdb.scheduler.batches_merged_total", "Total number of batches merged into the global schedule."},
		{&m.BatchesSignaledCounter, "batchdb.scheduler.batches_signaled_total", "Total number of batches handed to the executors."},
		{&m.ActionsExecutedCounter, "batchdb.executor.actions_executed_total", "Total number of actions executed."},
		{&m.ActionsDeferredCounter, "batchdb.executor.actions_deferred_total", "Total number of times an action was deferred because it was blocked."},
		{&m.BlockerAttemptsCounter, "batchdb.executor.blocker_attempts_total", "Total number of attempts to run the actions blocking another one."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
	}

	m.PackingsPerBatch, err = meter.Int64Histogram(
		"batchdb.scheduler.packings_per_batch",
		metric.WithDescription("Number of conflict-free packings per batch."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.ScheduleLatencyHistogram, err = meter.Float64Histogram(
		"batchdb.scheduler.schedule_duration",
		metric.WithDescription("Time spent packing a batch and building its lock table."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.MergeLatencyHistogram, err = meter.Float64Histogram(
		"batchdb.scheduler.merge_duration",
		metric.WithDescription("Time spent merging one batch shard into the global schedule."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.InFlightBatches, err = meter.Int64UpDownCounter(
		"batchdb.scheduler.in_flight_batches",
		metric.WithDescription("Batches assigned to scheduler threads and not yet signaled."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NewNoopEngineMetrics returns instruments that record nothing.
func NewNoopEngineMetrics() *EngineMetrics {
	m, err := NewEngineMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// The no-op meter never fails.
		panic(err)
	}
	return m
}
