// Command batchdb_bench runs throughput experiments against an in-process
// engine and writes the per-second completion samples as CSV.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kyungjunlee/multiversioning/config"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := defaultOptions()
	var configPath string

	cmd := &cobra.Command{
		Use:   "batchdb_bench",
		Short: "Measure batchdb scheduling and execution throughput",
		Long: `
Generates a synthetic read-modify-write workload, pushes it through a warm-up
run and a measured run, and reports the number of completed actions sampled
at a fixed interval.
`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			opts.apply(c, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runExperiments(ctx, cfg, opts, log, c.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.IntVarP(&opts.NumTxns, "txns", "n", opts.NumTxns, "actions in the measured run")
	flags.IntVar(&opts.WarmUpTxns, "warm-up", opts.WarmUpTxns, "actions in the warm-up run, 0 to skip it")
	flags.IntVar(&opts.Repetitions, "reps", opts.Repetitions, "number of measured runs")
	flags.Uint64Var(&opts.Seed, "seed", opts.Seed, "workload generator seed")
	flags.Float64Var(&opts.Rate, "rate", opts.Rate, "actions per second offered to the engine, 0 for unpaced")
	flags.DurationVar(&opts.SampleInterval, "sample-interval", opts.SampleInterval, "interval between completion samples")
	flags.StringVarP(&opts.Output, "output", "o", "", "CSV file to append samples to, stdout if empty")
	flags.BoolVar(&opts.PrintDiagnostics, "diag", false, "print scheduler timing diagnostics after each run")

	flags.IntVar(&opts.BatchSize, "batch-size", 0, "actions per batch")
	flags.IntVar(&opts.SchedThreads, "sched-threads", 0, "scheduler threads")
	flags.IntVar(&opts.ExecThreads, "exec-threads", 0, "executor threads")
	flags.Uint64Var(&opts.Records, "records", 0, "records in the single table")
	flags.Float64Var(&opts.Spec.Reads.AvgLocks, "read-avg", opts.Spec.Reads.AvgLocks, "average shared locks per action")
	flags.Float64Var(&opts.Spec.Reads.StdDevLocks, "read-stddev", opts.Spec.Reads.StdDevLocks, "standard deviation of shared locks per action")
	flags.Float64Var(&opts.Spec.Writes.AvgLocks, "write-avg", opts.Spec.Writes.AvgLocks, "average exclusive locks per action")
	flags.Float64Var(&opts.Spec.Writes.StdDevLocks, "write-stddev", opts.Spec.Writes.StdDevLocks, "standard deviation of exclusive locks per action")
	return cmd
}

// options are the experiment knobs that do not belong to the engine.
type options struct {
	NumTxns          int
	WarmUpTxns       int
	Repetitions      int
	Seed             uint64
	Rate             float64
	SampleInterval   time.Duration
	Output           string
	PrintDiagnostics bool
	Spec             transaction.Specification

	// Engine overrides, applied only when the flag was set.
	BatchSize    int
	SchedThreads int
	ExecThreads  int
	Records      uint64
}

func defaultOptions() options {
	return options{
		NumTxns:        100000,
		WarmUpTxns:     10000,
		Repetitions:    1,
		Seed:           1,
		SampleInterval: time.Second,
		Spec: transaction.Specification{
			Writes: transaction.LockDistribution{AvgLocks: 5, StdDevLocks: 1},
			Reads:  transaction.LockDistribution{AvgLocks: 5, StdDevLocks: 1},
		},
	}
}

// apply copies explicitly set engine flags into cfg and bounds the key
// ranges of the workload by the first table.
func (o *options) apply(c *cobra.Command, cfg *config.Config) {
	flags := c.Flags()
	if flags.Changed("batch-size") {
		cfg.Engine.Scheduler.BatchSize = o.BatchSize
	}
	if flags.Changed("sched-threads") {
		cfg.Engine.Scheduler.Threads = o.SchedThreads
	}
	if flags.Changed("exec-threads") {
		cfg.Engine.Executor.Threads = o.ExecThreads
	}
	if flags.Changed("records") && len(cfg.Engine.Tables) > 0 {
		cfg.Engine.Tables[0].NumRecords = o.Records
	}
	o.bindTable(cfg)
}

func (o *options) bindTable(cfg *config.Config) {
	if len(cfg.Engine.Tables) == 0 {
		return
	}
	table := cfg.Engine.Tables[0]
	o.Spec.TableID = table.TableID
	o.Spec.Reads.Low, o.Spec.Reads.High = 0, table.NumRecords-1
	o.Spec.Writes.Low, o.Spec.Writes.High = 0, table.NumRecords-1
}

func runExperiments(ctx context.Context, cfg config.Config, opts options, log *zap.Logger, stdout io.Writer) error {
	out := stdout
	if opts.Output != "" {
		f, err := os.OpenFile(opts.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open output %s: %w", opts.Output, err)
		}
		defer f.Close()
		out = f
	}
	report := newReport(out)

	exp, err := newExperiment(cfg, opts, log)
	if err != nil {
		return err
	}
	defer exp.close()
	for i := 0; i < opts.Repetitions; i++ {
		res, err := exp.run(ctx)
		if err != nil {
			return err
		}
		if err := report.write(res); err != nil {
			return err
		}
		printSummary(stdout, res)
		if opts.PrintDiagnostics {
			res.Diagnostics.Print(stdout)
		}
	}
	return report.flush()
}
