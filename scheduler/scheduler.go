package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-systest/metrics"
	"github.com/ethereum-optimism/infra/op-systest/registry"
	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// Materialize expands a selection into the concrete job list: one job per
// (test, mode) pair per cycle. The list is the single source of truth for
// the run; duplicates are impossible by construction.
func Materialize(selections []registry.Selection, cycles int) []types.Job {
	if cycles < 1 {
		cycles = 1
	}
	jobs := make([]types.Job, 0, len(selections)*cycles)
	for cycle := 0; cycle < cycles; cycle++ {
		for _, sel := range selections {
			jobs = append(jobs, types.Job{
				Descriptor: sel.Descriptor,
				Mode:       sel.Mode,
				Cycle:      cycle,
			})
		}
	}
	return jobs
}

// Config holds configuration for creating a scheduler.
type Config struct {
	Log    log.Logger
	Runner *runner.Runner
	RunID  string

	// Concurrency bounds the worker pool. Defaults to 1: strictly
	// sequential execution.
	Concurrency int

	// FailFast stops new jobs once a finished job reaches
	// FailFastThreshold: undispatched and already-buffered jobs are
	// abandoned. In-flight jobs always run to completion, including
	// their cleanup.
	FailFast          bool
	FailFastThreshold types.Outcome
}

// Scheduler dispatches materialized jobs across a bounded worker pool.
type Scheduler struct {
	log               log.Logger
	runner            *runner.Runner
	runID             string
	concurrency       int
	failFast          bool
	failFastThreshold types.Outcome
	tracer            trace.Tracer
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > 32 {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", cfg.Concurrency)
	}
	if cfg.FailFastThreshold == types.Outcome(0) {
		cfg.FailFastThreshold = types.OutcomeFailed
	}
	return &Scheduler{
		log:               cfg.Log,
		runner:            cfg.Runner,
		runID:             cfg.RunID,
		concurrency:       cfg.Concurrency,
		failFast:          cfg.FailFast,
		failFastThreshold: cfg.FailFastThreshold,
		tracer:            otel.Tracer("scheduler"),
	}, nil
}

type workResult struct {
	job    types.Job
	result *runner.JobResult
	err    error
}

// Execute runs all jobs and returns their results in completion order.
// An empty job list is not an error; callers decide whether that is fatal.
// Run-level cancellation stops dispatch and kills in-flight processes, but
// every started job still runs its cleanup.
func (s *Scheduler) Execute(ctx context.Context, jobs []types.Job) ([]*runner.JobResult, error) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("run %s", s.runID))
	defer span.End()

	start := time.Now()
	if len(jobs) == 0 {
		s.log.Warn("No jobs to execute")
		return nil, nil
	}

	s.log.Info("Starting job execution", "totalJobs", len(jobs), "concurrency", s.concurrency, "failFast", s.failFast)

	bufferSize := min(s.concurrency*2, 100)
	workChan := make(chan types.Job, bufferSize)
	resultChan := make(chan workResult, bufferSize)

	// stopDispatch closes the moment a worker produces a result at or
	// above the fail-fast threshold. Workers consult it before starting
	// each dequeued job, so jobs sitting in the dispatch buffer when it
	// closes are abandoned, not run.
	stop := &stopSignal{c: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, workChan, resultChan, stop)
	}

	go func() {
		defer close(workChan)
		for _, job := range jobs {
			select {
			case workChan <- job:
			case <-stop.c:
				s.log.Warn("Fail-fast triggered, remaining jobs not dispatched")
				return
			case <-ctx.Done():
				s.log.Debug("Context cancelled while dispatching jobs")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []*runner.JobResult
	var faults []error
	for wr := range resultChan {
		if wr.err != nil {
			s.log.Error("Job could not be attempted", "job", wr.job.Key(), "err", wr.err)
			metrics.RecordErrorDetails("scheduler.job", wr.err)
			faults = append(faults, fmt.Errorf("job %s: %w", wr.job.Key(), wr.err))
			continue
		}

		results = append(results, wr.result)
		metrics.RecordJob(s.runID, wr.job, wr.result.Outcome)
	}

	if len(faults) > 0 {
		return results, fmt.Errorf("run had %d unattemptable jobs, first: %w", len(faults), faults[0])
	}

	s.log.Info("Job execution completed", "duration", time.Since(start), "completed", len(results), "of", len(jobs))
	return results, nil
}

// stopSignal is a one-shot broadcast shared by the dispatcher and workers.
type stopSignal struct {
	once sync.Once
	c    chan struct{}
}

func (s *stopSignal) trigger() {
	s.once.Do(func() { close(s.c) })
}

func (s *stopSignal) triggered() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan types.Job, resultChan chan<- workResult, stop *stopSignal) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-workChan:
			if !ok {
				return
			}
			// A job that was buffered before fail-fast triggered is
			// abandoned here; only jobs already running finish.
			if stop.triggered() {
				s.log.Debug("Skipping buffered job after fail-fast", "job", job.Key())
				continue
			}
			s.log.Debug("Worker picked up job", "job", job.Key())
			result, err := s.runner.Run(ctx, job)
			if err == nil && s.failFast && result.Outcome >= s.failFastThreshold {
				s.log.Error("Job crossed fail-fast threshold",
					"job", job.Key(), "outcome", result.Outcome, "threshold", s.failFastThreshold)
				stop.trigger()
			}
			resultChan <- workResult{job: job, result: result, err: err}
		case <-ctx.Done():
			// Drain nothing further; in-flight jobs were handled above.
			return
		}
	}
}
