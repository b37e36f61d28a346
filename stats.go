package sampled

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TickStats accumulates the measured periods of a sampler's ticks so that
// timing quality (mean period, jitter) is observable. The sampler goroutine
// records; any goroutine may take a snapshot.
type TickStats struct {
	mu      sync.Mutex
	periods []float64 // seconds
	maxKeep int
}

// NewTickStats creates a TickStats keeping at most maxKeep recent periods.
func NewTickStats(maxKeep int) *TickStats {
	if maxKeep < 2 {
		maxKeep = 2
	}
	return &TickStats{maxKeep: maxKeep}
}

// Record adds one measured tick period.
func (ts *TickStats) Record(elapsed time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.periods) == ts.maxKeep {
		copy(ts.periods, ts.periods[1:])
		ts.periods = ts.periods[:ts.maxKeep-1]
	}
	ts.periods = append(ts.periods, elapsed.Seconds())
}

// TickStatsSummary is a snapshot of timing statistics.
type TickStatsSummary struct {
	Count      int
	MeanPeriod time.Duration
	StdDev     time.Duration
}

func (s TickStatsSummary) String() string {
	return fmt.Sprintf("n=%d mean=%v stddev=%v", s.Count, s.MeanPeriod, s.StdDev)
}

// Summary computes the mean and standard deviation of the recorded periods.
func (ts *TickStats) Summary() TickStatsSummary {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := len(ts.periods)
	if n == 0 {
		return TickStatsSummary{}
	}
	mean, std := stat.MeanStdDev(ts.periods, nil)
	if n < 2 {
		std = 0
	}
	return TickStatsSummary{
		Count:      n,
		MeanPeriod: time.Duration(mean * float64(time.Second)),
		StdDev:     time.Duration(std * float64(time.Second)),
	}
}
