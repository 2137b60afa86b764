package diagnostics

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// SchedulerDiag holds the timings of one scheduler goroutine, in
// milliseconds.
type SchedulerDiag struct {
	TimePerIteration     NumStat
	TimeCreatingSchedule NumStat
	TimeHandingOff       NumStat
}

// Reset discards every sample.
func (d *SchedulerDiag) Reset() {
	d.TimePerIteration.Reset()
	d.TimeCreatingSchedule.Reset()
	d.TimeHandingOff.Reset()
}

// SchedulerSummary is a snapshot of a SchedulerDiag.
type SchedulerSummary struct {
	Name                 string
	TimePerIteration     Summary
	TimeCreatingSchedule Summary
	TimeHandingOff       Summary
}

// Summarize snapshots d under the given name.
func (d *SchedulerDiag) Summarize(name string) SchedulerSummary {
	return SchedulerSummary{
		Name:                 name,
		TimePerIteration:     d.TimePerIteration.Summary(),
		TimeCreatingSchedule: d.TimeCreatingSchedule.Summary(),
		TimeHandingOff:       d.TimeHandingOff.Summary(),
	}
}

// GlobalSchedulerDiag aggregates the per-thread diagnostics of the
// scheduler pool.
type GlobalSchedulerDiag struct {
	Threads []SchedulerSummary
}

// Total combines every thread into one summary.
func (g GlobalSchedulerDiag) Total() SchedulerSummary {
	var iter, create, hand []Summary
	for _, t := range g.Threads {
		iter = append(iter, t.TimePerIteration)
		create = append(create, t.TimeCreatingSchedule)
		hand = append(hand, t.TimeHandingOff)
	}
	return SchedulerSummary{
		Name:                 "total",
		TimePerIteration:     Combine(iter...),
		TimeCreatingSchedule: Combine(create...),
		TimeHandingOff:       Combine(hand...),
	}
}

func statCells(s Summary) []interface{} {
	return []interface{}{
		fmt.Sprintf("%.3f", s.Average),
		fmt.Sprintf("%.3f", s.Min),
		fmt.Sprintf("%.3f", s.Max),
		s.Samples,
	}
}

// Print renders one row per thread and statistic, followed by the totals.
func (g GlobalSchedulerDiag) Print(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"thread", "stat", "avg ms", "min ms", "max ms", "samples"})

	rows := append(append([]SchedulerSummary{}, g.Threads...), g.Total())
	for _, s := range rows {
		for _, stat := range []struct {
			name string
			sum  Summary
		}{
			{"iteration", s.TimePerIteration},
			{"create schedule", s.TimeCreatingSchedule},
			{"hand off", s.TimeHandingOff},
		} {
			row := table.Row{s.Name, stat.name}
			row = append(row, statCells(stat.sum)...)
			t.AppendRow(row)
		}
	}
	t.Render()
}
