package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-systest/assertions"
	"github.com/ethereum-optimism/infra/op-systest/process"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// TranscriptFile is the per-job assertion transcript written into the
// job's output directory.
const TranscriptFile = "transcript.log"

// DefaultJobTimeout bounds jobs whose descriptor declares no timeout.
const DefaultJobTimeout = 10 * time.Minute

// JobResult is everything a finished job reports upward.
type JobResult struct {
	Job       types.Job
	Outcome   types.Outcome
	Reason    string
	Records   []types.AssertionRecord
	Perf      []types.PerfSample
	OutputDir string
	Duration  time.Duration
}

// Config holds configuration for creating a runner.
type Config struct {
	Log     log.Logger
	WorkDir string // run directory; each job gets an exclusive subdirectory
	Hooks   Hooks  // defaults to DescriptorHooks

	// DefaultTimeout applies to jobs whose descriptor declares none.
	DefaultTimeout time.Duration

	// ValidateOnly replays the VALIDATING stage against previously
	// captured output instead of executing processes.
	ValidateOnly bool
}

// Runner drives single jobs through their lifecycle. It is stateless
// across jobs and safe for concurrent use by multiple workers.
type Runner struct {
	log            log.Logger
	workDir        string
	hooks          Hooks
	defaultTimeout time.Duration
	validateOnly   bool
	tracer         trace.Tracer
}

// NewRunner creates a runner instance.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Hooks == nil {
		cfg.Hooks = DescriptorHooks{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultJobTimeout
	}
	return &Runner{
		log:            cfg.Log,
		workDir:        cfg.WorkDir,
		hooks:          cfg.Hooks,
		defaultTimeout: cfg.DefaultTimeout,
		validateOnly:   cfg.ValidateOnly,
		tracer:         otel.Tracer("test runner"),
	}, nil
}

// Run drives one job PENDING→SETUP→EXECUTING→VALIDATING→CLEANUP→DONE. The
// returned error is a harness fault (the job could not be attempted at
// all); everything that happens inside the lifecycle is expressed through
// the result's outcome instead.
func (r *Runner) Run(ctx context.Context, job types.Job) (*JobResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("job %s", job.Key()))
	defer span.End()

	start := time.Now()

	if job.Descriptor.Skipped() {
		r.log.Info("Job skipped", "job", job.Key(), "reason", job.Descriptor.SkipReason)
		return &JobResult{
			Job:      job,
			Outcome:  types.OutcomeSkipped,
			Reason:   job.Descriptor.SkipReason,
			Duration: time.Since(start),
		}, nil
	}

	outputDir := filepath.Join(r.workDir, job.DirName())
	if r.validateOnly {
		if _, err := os.Stat(outputDir); err != nil {
			return nil, fmt.Errorf("no captured output for job %s: %w", job.Key(), err)
		}
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory for job %s: %w", job.Key(), err)
	}

	timeout := job.Descriptor.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	jlog := r.log.New("job", job.Key())
	t := &T{
		Job:       job,
		OutputDir: outputDir,
		Timeout:   timeout,
		Log:       jlog,
		Processes: process.NewSupervisor(jlog),
		Assert:    assertions.NewEngine(jlog),
	}

	state := StatePending
	advance := func(next State) {
		state = next
		jlog.Debug("State transition", "state", state)
	}

	blocked := false
	reason := ""
	if !r.validateOnly {
		advance(StateSetup)
		if err := r.hooks.Setup(ctx, t); err != nil {
			jlog.Error("Setup failed, job blocked", "err", err)
			blocked = true
			reason = fmt.Sprintf("setup failed: %v", err)
		} else {
			advance(StateExecuting)
			if err := r.hooks.Execute(ctx, t); err != nil {
				// Validation still runs to capture partial evidence.
				jlog.Error("Execute faulted", "err", err)
				t.FoldProcess(types.OutcomeBlocked)
				reason = fmt.Sprintf("execute faulted: %v", err)
			}
		}
	}

	if !blocked {
		advance(StateValidating)
		r.validate(ctx, t)
	}

	advance(StateCleanup)
	if !r.validateOnly {
		// Cleanup ignores run-level cancellation: working directories and
		// spawned processes must be released no matter how the job ended.
		if err := r.hooks.Cleanup(context.WithoutCancel(ctx), t); err != nil {
			jlog.Warn("Cleanup reported errors", "err", err)
		}
		t.Processes.TerminateAll()
	}
	advance(StateDone)

	records := t.Assert.Records()
	outcome := types.OutcomeBlocked
	if !blocked {
		outcome = types.Worse(t.Assert.Worst(), t.processWorst())
	}
	if reason == "" {
		reason = firstFailureReason(records, outcome)
	}

	if err := writeTranscript(filepath.Join(outputDir, TranscriptFile), records); err != nil {
		jlog.Error("Failed to write transcript", "err", err)
	}

	result := &JobResult{
		Job:       job,
		Outcome:   outcome,
		Reason:    reason,
		Records:   records,
		Perf:      t.perfSamples(),
		OutputDir: outputDir,
		Duration:  time.Since(start),
	}
	jlog.Info("Job finished", "outcome", outcome, "duration", result.Duration, "assertions", len(records))
	return result, nil
}

// validate traps panics so a fatal internal error in validation can never
// skip CLEANUP.
func (r *Runner) validate(ctx context.Context, t *T) {
	defer func() {
		if p := recover(); p != nil {
			t.Log.Error("Validation panicked", "panic", p)
			t.Assert.Blocked("validation completes", fmt.Errorf("panic: %v", p))
		}
	}()
	if err := r.hooks.Validate(ctx, t); err != nil {
		t.Assert.Blocked("validation completes", err)
	}
}

func firstFailureReason(records []types.AssertionRecord, outcome types.Outcome) string {
	if !outcome.IsFailure() {
		return ""
	}
	for _, rec := range records {
		if rec.Outcome.IsFailure() {
			return rec.String()
		}
	}
	return ""
}

func writeTranscript(path string, records []types.AssertionRecord) error {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.String())
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
