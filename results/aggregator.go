package results

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// NotReadyError reports a Finalize call before every expected job was
// recorded.
type NotReadyError struct {
	Recorded int
	Expected int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("run not complete: %d of %d jobs recorded", e.Recorded, e.Expected)
}

// Config holds configuration for creating an aggregator.
type Config struct {
	Log   log.Logger
	RunID string

	// Expected is the materialized job list. Finalize refuses to produce
	// a summary until every one of these has been recorded.
	Expected []types.Job
}

// Aggregator collects job results as workers finish them. Record is the
// sole mutator and is safe under concurrent invocation; everything else
// is read-only until Finalize seals the run.
type Aggregator struct {
	log     log.Logger
	runID   string
	pending map[string]bool
	total   int

	mu        sync.Mutex
	entries   []types.ResultLogEntry
	byOutcome map[types.Outcome][]string
	perf      []types.PerfSample
	stats     types.RunStats
	finalized bool
}

// NewAggregator creates an aggregator for the given expected job list.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	pending := make(map[string]bool, len(cfg.Expected))
	for _, job := range cfg.Expected {
		if pending[job.Key()] {
			return nil, fmt.Errorf("duplicate job %s in expected list", job.Key())
		}
		pending[job.Key()] = true
	}

	return &Aggregator{
		log:       cfg.Log,
		runID:     cfg.RunID,
		pending:   pending,
		total:     len(cfg.Expected),
		byOutcome: make(map[types.Outcome][]string),
		stats:     types.RunStats{StartTime: time.Now()},
	}, nil
}

// Record ingests one finished job. It must be called exactly once per
// job: an unknown or already-recorded job is an error.
func (a *Aggregator) Record(result *runner.JobResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return fmt.Errorf("run %s already finalized", a.runID)
	}

	key := result.Job.Key()
	if !a.pending[key] {
		return fmt.Errorf("job %s is not pending (unknown or recorded twice)", key)
	}
	delete(a.pending, key)

	a.entries = append(a.entries, types.ResultLogEntry{
		JobKey:    key,
		TestID:    result.Job.Descriptor.ID,
		Mode:      result.Job.Mode.Name,
		Cycle:     result.Job.Cycle,
		Outcome:   result.Outcome.String(),
		Reason:    result.Reason,
		OutputDir: result.OutputDir,
		Duration:  result.Duration,
	})
	a.byOutcome[result.Outcome] = append(a.byOutcome[result.Outcome], key)
	a.perf = append(a.perf, result.Perf...)

	a.stats.Total++
	switch {
	case result.Outcome == types.OutcomeSkipped:
		a.stats.Skipped++
	case result.Outcome == types.OutcomePassed:
		a.stats.Passed++
	case result.Outcome.IsFailure():
		a.stats.Failed++
	default:
		a.stats.Warned++
	}

	a.log.Debug("Job recorded", "job", key, "outcome", result.Outcome, "remaining", len(a.pending))
	return nil
}

// Finalize seals the run and returns its summary. It fails with
// *NotReadyError while any expected job is still unrecorded.
func (a *Aggregator) Finalize() (*types.RunSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) > 0 {
		return nil, &NotReadyError{Recorded: a.total - len(a.pending), Expected: a.total}
	}
	a.finalized = true
	a.stats.EndTime = time.Now()

	summary := &types.RunSummary{
		RunID:     a.runID,
		ByOutcome: a.byOutcome,
		Entries:   a.entries,
		Perf:      a.perf,
		Stats:     a.stats,
		Duration:  a.stats.EndTime.Sub(a.stats.StartTime),
	}
	a.log.Info("Run finalized",
		"runID", a.runID, "total", a.stats.Total, "passed", a.stats.Passed,
		"failed", a.stats.Failed, "skipped", a.stats.Skipped, "worst", summary.Worst())
	return summary, nil
}
