package types

import (
	"time"
)

// ResultLogEntry is one line of the run's ordered result log, consumed by
// external report renderers.
type ResultLogEntry struct {
	JobKey    string        `json:"job"`
	TestID    string        `json:"id"`
	Mode      string        `json:"mode"`
	Cycle     int           `json:"cycle"`
	Outcome   string        `json:"outcome"` // literal outcome token
	Reason    string        `json:"reason,omitempty"`
	OutputDir string        `json:"outputDir,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// PerfSample is one named numeric measurement reported by a job.
type PerfSample struct {
	JobKey string
	Name   string
	Value  float64
	Unit   string
}

// RunStats counts jobs by coarse result at the run level.
type RunStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Warned    int // INSPECT / NOTVERIFIED
	StartTime time.Time
	EndTime   time.Time
}

// RunSummary is the finalized, read-only aggregate of a run. It is built
// exclusively through the result aggregator and handed out only after the
// scheduler declares the run complete.
type RunSummary struct {
	RunID     string
	ByOutcome map[Outcome][]string // outcome -> job keys, in completion order
	Entries   []ResultLogEntry     // completion-ordered result log
	Perf      []PerfSample
	Stats     RunStats
	Duration  time.Duration
}

// Worst returns the highest-severity outcome observed across all jobs.
// An empty run is NOTVERIFIED: nothing was demonstrated either way.
func (s *RunSummary) Worst() Outcome {
	worst := OutcomeSkipped
	seen := false
	for o, jobs := range s.ByOutcome {
		if len(jobs) == 0 {
			continue
		}
		seen = true
		worst = Worse(worst, o)
	}
	if !seen {
		return OutcomeNotVerified
	}
	return worst
}

// OK reports whether the run should exit zero: nothing worse than PASSED,
// with SKIPPED also acceptable.
func (s *RunSummary) OK() bool {
	return s.Worst().OK()
}
