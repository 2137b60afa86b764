package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kyungjunlee/multiversioning/config"
	"github.com/kyungjunlee/multiversioning/core/supervisor"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/diagnostics"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"github.com/kyungjunlee/multiversioning/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// sample is the number of actions completed since the measured run began.
type sample struct {
	Elapsed   time.Duration
	Completed uint64
}

type result struct {
	RunID       uuid.UUID
	Config      config.Config
	Options     options
	WarmUp      time.Duration
	FirstOutput time.Duration
	Elapsed     time.Duration
	Completed   uint64
	Samples     []sample
	Diagnostics diagnostics.GlobalSchedulerDiag
}

// Throughput is completed actions per second over the measured run.
func (r *result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Completed) / r.Elapsed.Seconds()
}

type experiment struct {
	cfg      config.Config
	opts     options
	log      *zap.Logger
	tel      *telemetry.Telemetry
	shutdown telemetry.ShutdownFunc
	sup      *supervisor.Supervisor
	factory  *transaction.Factory
}

func newExperiment(cfg config.Config, opts options, log *zap.Logger) (*experiment, error) {
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	exp := &experiment{cfg: cfg, opts: opts, log: log.Named("bench"), tel: tel, shutdown: shutdown}

	metrics, err := internaltelemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		exp.close()
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	if exp.sup, err = supervisor.New(cfg.Engine, log, supervisor.WithMetrics(metrics), supervisor.WithTracer(tel.Tracer)); err != nil {
		exp.close()
		return nil, err
	}
	if exp.factory, err = transaction.NewFactory(opts.Spec, opts.Seed); err != nil {
		exp.close()
		return nil, err
	}
	if tel.Enabled() {
		exp.log.Info("Telemetry enabled", zap.String("prometheus_addr", cfg.Telemetry.PrometheusAddr))
	}
	return exp, nil
}

// close stops the engine and flushes telemetry.
func (e *experiment) close() {
	if e.sup != nil {
		if err := e.sup.Stop(); err != nil {
			e.log.Warn("Engine stopped with error", zap.Error(err))
		}
	}
	if err := e.shutdown(context.Background()); err != nil {
		e.log.Warn("Telemetry shutdown failed", zap.Error(err))
	}
}

// run performs one warm-up run and one measured run, resetting the engine
// before each.
func (e *experiment) run(ctx context.Context) (*result, error) {
	res := &result{Config: e.cfg, Options: e.opts}

	if e.opts.WarmUpTxns > 0 {
		warmUp, err := e.warmUp(ctx)
		if err != nil {
			return nil, fmt.Errorf("warm-up run: %w", err)
		}
		res.WarmUp = warmUp
	}

	workload, err := e.factory.Generate(e.opts.NumTxns)
	if err != nil {
		return nil, err
	}
	if err := e.sup.Reset(); err != nil {
		return nil, err
	}
	res.RunID = e.sup.RunID()
	if err := e.measure(ctx, workload, res); err != nil {
		return nil, fmt.Errorf("measured run: %w", err)
	}
	res.Diagnostics = e.sup.Diagnostics()

	e.log.Info("Run finished",
		zap.String("run_id", res.RunID.String()),
		zap.Uint64("completed", res.Completed),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("throughput", res.Throughput()),
	)
	return res, nil
}

// warmUp preloads the whole workload into the stopped engine and drains it
// once so that every record has been touched.
func (e *experiment) warmUp(ctx context.Context) (time.Duration, error) {
	workload, err := e.factory.Generate(e.opts.WarmUpTxns)
	if err != nil {
		return 0, err
	}
	if err := e.sup.Reset(); err != nil {
		return 0, err
	}
	if err := e.sup.SetSimulationWorkload(workload); err != nil {
		return 0, err
	}

	start := time.Now()
	if err := e.sup.Start(ctx); err != nil {
		return 0, err
	}
	_, err = e.sup.WaitForOutput(ctx, len(workload))
	elapsed := time.Since(start)
	if stopErr := e.sup.Stop(); err == nil {
		err = stopErr
	}
	e.log.Info("Warm-up finished", zap.Int("actions", len(workload)), zap.Duration("elapsed", elapsed))
	return elapsed, err
}

// measure streams the workload into the running engine, optionally paced,
// while a sampler records the completion count every SampleInterval.
func (e *experiment) measure(ctx context.Context, workload []*transaction.Action, res *result) error {
	if err := e.sup.Start(ctx); err != nil {
		return err
	}

	var completed atomic.Uint64
	done := make(chan struct{})
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.feed(gctx, workload)
	})
	g.Go(func() error {
		defer close(done)
		for completed.Load() < uint64(len(workload)) {
			chunk, err := e.sup.WaitForOutput(gctx, 1)
			if err != nil {
				return err
			}
			if completed.Load() == 0 {
				res.FirstOutput = time.Since(start)
			}
			completed.Add(uint64(len(chunk)))
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(e.opts.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				res.Samples = append(res.Samples, sample{Elapsed: time.Since(start), Completed: completed.Load()})
			}
		}
	})

	err := g.Wait()
	res.Elapsed = time.Since(start)
	res.Completed = completed.Load()
	res.Samples = append(res.Samples, sample{Elapsed: res.Elapsed, Completed: res.Completed})
	if stopErr := e.sup.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// feed hands the workload to the engine. With a rate it behaves like an
// open-loop client; without one it pushes as fast as the input queue allows.
func (e *experiment) feed(ctx context.Context, workload []*transaction.Action) error {
	if e.opts.Rate <= 0 {
		return e.sup.SetSimulationWorkload(workload)
	}
	limiter := rate.NewLimiter(rate.Limit(e.opts.Rate), max(1, int(e.opts.Rate/100)))
	for _, act := range workload {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := e.sup.AddAction(act); err != nil {
			return err
		}
	}
	return e.sup.Flush()
}
