package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/kyungjunlee/multiversioning/config"
	"github.com/kyungjunlee/multiversioning/core/supervisor"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	internaltelemetry "github.com/kyungjunlee/multiversioning/internal/telemetry"
	"github.com/kyungjunlee/multiversioning/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	errUsage          = errors.New("usage")
	errUnknownCommand = errors.New("unknown command")
)

type command struct {
	name  string
	usage string
	help  string
	run   func(sh *shell, args []string, out io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{"run", "run N", "generate and execute N read-modify-write actions", (*shell).run},
		{"checksum", "checksum", "print the checksum of every record value", (*shell).checksum},
		{"values", "values [TABLE [FROM [TO]]]", "print record values of a table", (*shell).values},
		{"stats", "stats", "print run totals and scheduler diagnostics", (*shell).stats},
		{"reset", "reset", "zero every record and restart batch numbering", (*shell).reset},
		{"config", "config", "print the active configuration", (*shell).config},
		{"help", "help", "list commands", (*shell).help},
		{"quit", "quit", "leave the shell", nil},
	}
}

// shell runs commands against one engine. Each run starts the engine, waits
// for every action and stops it again, so record values are stable between
// commands.
type shell struct {
	cfg      config.Config
	log      *zap.Logger
	tel      *telemetry.Telemetry
	shutdown telemetry.ShutdownFunc
	sup      *supervisor.Supervisor
	factory  *transaction.Factory

	runs     int
	executed uint64
	elapsed  time.Duration
}

func newShell(cfg config.Config, seed uint64, log *zap.Logger) (*shell, error) {
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	metrics, err := internaltelemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	sup, err := supervisor.New(cfg.Engine, log, supervisor.WithMetrics(metrics), supervisor.WithTracer(tel.Tracer))
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	table := cfg.Engine.Tables[0]
	spec := transaction.Specification{
		TableID: table.TableID,
		Writes:  transaction.LockDistribution{Low: 0, High: table.NumRecords - 1, AvgLocks: 5, StdDevLocks: 1},
		Reads:   transaction.LockDistribution{Low: 0, High: table.NumRecords - 1, AvgLocks: 5, StdDevLocks: 1},
	}
	factory, err := transaction.NewFactory(spec, seed)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	return &shell{cfg: cfg, log: log, tel: tel, shutdown: shutdown, sup: sup, factory: factory}, nil
}

func (sh *shell) close() {
	if err := sh.sup.Stop(); err != nil {
		sh.log.Warn("Engine stopped with error", zap.Error(err))
	}
	if err := sh.shutdown(context.Background()); err != nil {
		sh.log.Warn("Telemetry shutdown failed", zap.Error(err))
	}
}

// exec runs one input line. It reports whether the shell should exit.
func (sh *shell) exec(line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" || name == "exit" {
		return true, nil
	}
	for _, c := range commands {
		if c.name == name && c.run != nil {
			err := c.run(sh, args, out)
			if errors.Is(err, errUsage) {
				return false, fmt.Errorf("%w: %s", errUsage, c.usage)
			}
			return false, err
		}
	}
	return false, fmt.Errorf("%w %q", errUnknownCommand, name)
}

func (sh *shell) run(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return errUsage
	}
	actions, err := sh.factory.Generate(n)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := sh.sup.SetSimulationWorkload(actions); err != nil {
		return err
	}
	start := time.Now()
	if err := sh.sup.Start(ctx); err != nil {
		return err
	}
	done, err := sh.sup.WaitForOutput(ctx, n)
	elapsed := time.Since(start)
	if stopErr := sh.sup.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}

	sh.runs++
	sh.executed += uint64(len(done))
	sh.elapsed += elapsed
	fmt.Fprintf(out, "executed %d actions in %s (%.0f actions/s)\n", len(done), elapsed.Round(time.Microsecond), float64(len(done))/elapsed.Seconds())
	return nil
}

func (sh *shell) checksum(args []string, out io.Writer) error {
	fmt.Fprintf(out, "%016x\n", sh.sup.Storage().Checksum())
	return nil
}

func (sh *shell) values(args []string, out io.Writer) error {
	if len(args) > 3 {
		return errUsage
	}
	nums := make([]uint64, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return errUsage
		}
		nums[i] = v
	}

	tableID := sh.cfg.Engine.Tables[0].TableID
	if len(nums) > 0 {
		tableID = uint32(nums[0])
	}
	values, err := sh.sup.Storage().Values(tableID)
	if err != nil {
		return err
	}
	from, to := uint64(0), uint64(len(values))
	if len(nums) > 1 {
		from = min(nums[1], to)
	}
	if len(nums) > 2 {
		to = min(nums[2]+1, to)
	}
	if from > to {
		return errUsage
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"record", "value"})
	for i := from; i < to; i++ {
		t.AppendRow(table.Row{i, values[i]})
	}
	t.Render()
	return nil
}

func (sh *shell) stats(args []string, out io.Writer) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"run id", "runs", "executed", "busy"})
	t.AppendRow(table.Row{sh.sup.RunID().String(), sh.runs, sh.executed, sh.elapsed.Round(time.Microsecond).String()})
	t.Render()
	if sh.cfg.Engine.Scheduler.Diagnostics {
		sh.sup.Diagnostics().Print(out)
	}
	return nil
}

func (sh *shell) reset(args []string, out io.Writer) error {
	if err := sh.sup.Reset(); err != nil {
		return err
	}
	sh.runs, sh.executed, sh.elapsed = 0, 0, 0
	fmt.Fprintf(out, "reset, run id %s\n", sh.sup.RunID())
	return nil
}

func (sh *shell) config(args []string, out io.Writer) error {
	data, err := sh.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func (sh *shell) help(args []string, out io.Writer) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"command", "description"})
	for _, c := range commands {
		t.AppendRow(table.Row{c.usage, c.help})
	}
	t.Render()
	return nil
}
