package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/table"
)

var csvHeader = []string{
	"run_id", "num_txns", "batch_size", "num_sched_threads", "num_exec_threads",
	"num_records", "avg_shared_locks", "std_dev_shared_locks", "avg_excl_locks",
	"std_dev_excl_locks", "elapsed_ms", "completed",
}

// report writes one CSV row per completion sample. The header is written
// before the first row.
type report struct {
	w           *csv.Writer
	wroteHeader bool
}

func newReport(w io.Writer) *report {
	return &report{w: csv.NewWriter(w)}
}

func (r *report) write(res *result) error {
	if !r.wroteHeader {
		if err := r.w.Write(csvHeader); err != nil {
			return err
		}
		r.wroteHeader = true
	}

	engine := res.Config.Engine
	var records uint64
	if len(engine.Tables) > 0 {
		records = engine.Tables[0].NumRecords
	}
	prefix := []string{
		res.RunID.String(),
		strconv.Itoa(res.Options.NumTxns),
		strconv.Itoa(engine.Scheduler.BatchSize),
		strconv.Itoa(engine.Scheduler.Threads),
		strconv.Itoa(engine.Executor.Threads),
		strconv.FormatUint(records, 10),
		formatFloat(res.Options.Spec.Reads.AvgLocks),
		formatFloat(res.Options.Spec.Reads.StdDevLocks),
		formatFloat(res.Options.Spec.Writes.AvgLocks),
		formatFloat(res.Options.Spec.Writes.StdDevLocks),
	}
	for _, s := range res.Samples {
		row := append(prefix[:len(prefix):len(prefix)],
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			strconv.FormatUint(s.Completed, 10),
		)
		if err := r.w.Write(row); err != nil {
			return err
		}
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *report) flush() error {
	r.w.Flush()
	return r.w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func printSummary(w io.Writer, res *result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"run", "actions", "warm-up", "first output", "elapsed", "actions/s"})
	t.AppendRow(table.Row{
		res.RunID.String(),
		res.Completed,
		res.WarmUp.Round(time.Millisecond).String(),
		res.FirstOutput.Round(time.Millisecond).String(),
		res.Elapsed.Round(time.Millisecond).String(),
		fmt.Sprintf("%.0f", res.Throughput()),
	})
	t.Render()
}
