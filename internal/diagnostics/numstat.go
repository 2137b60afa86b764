// Package diagnostics collects per-goroutine timing statistics of the
// scheduling pipeline and renders them as tables.
package diagnostics

import (
	"sync"
	"time"
)

// NumStat keeps a running average, minimum and maximum of a series of
// samples. It is safe for one writer and concurrent readers.
type NumStat struct {
	mu      sync.Mutex
	average float64
	min     float64
	max     float64
	samples uint64
}

// Summary is a point-in-time copy of a NumStat.
type Summary struct {
	Average float64
	Min     float64
	Max     float64
	Samples uint64
}

// AddSample folds v into the statistic.
func (s *NumStat) AddSample(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := float64(s.samples)
	s.average = s.average*n/(n+1) + v/(n+1)
	if s.samples == 0 || v < s.min {
		s.min = v
	}
	if s.samples == 0 || v > s.max {
		s.max = v
	}
	s.samples++
}

// AddSince records the time elapsed since start, in milliseconds.
func (s *NumStat) AddSince(start time.Time) {
	s.AddSample(float64(time.Since(start).Microseconds()) / 1000)
}

// Summary returns the current values.
func (s *NumStat) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{Average: s.average, Min: s.min, Max: s.max, Samples: s.samples}
}

// Reset discards every sample.
func (s *NumStat) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.average, s.min, s.max, s.samples = 0, 0, 0, 0
}

// Combine merges summaries as if all their samples had been added to one
// statistic.
func Combine(summaries ...Summary) Summary {
	var out Summary
	var total float64
	for _, s := range summaries {
		if s.Samples == 0 {
			continue
		}
		if out.Samples == 0 || s.Min < out.Min {
			out.Min = s.Min
		}
		if out.Samples == 0 || s.Max > out.Max {
			out.Max = s.Max
		}
		total += s.Average * float64(s.Samples)
		out.Samples += s.Samples
	}
	if out.Samples > 0 {
		out.Average = total / float64(out.Samples)
	}
	return out
}
