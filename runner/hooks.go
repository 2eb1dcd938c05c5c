package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/assertions"
	"github.com/ethereum-optimism/infra/op-systest/process"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// T is the per-job context handed to lifecycle hooks. It carries the
// job's supervisor, assertion engine, and output directory — there is no
// ambient "current test" anywhere; everything a hook needs arrives through
// its *T.
type T struct {
	Job       types.Job
	OutputDir string
	Timeout   time.Duration
	Log       log.Logger
	Processes *process.Supervisor
	Assert    *assertions.Engine

	mu             sync.Mutex
	processOutcome types.Outcome
	perf           []types.PerfSample
}

// Param returns the named mode parameter, or empty when absent.
func (t *T) Param(name string) string {
	return t.Job.Mode.Params[name]
}

// Expand substitutes ${name} references with mode parameters.
func (t *T) Expand(s string) string {
	return os.Expand(s, t.Param)
}

// File resolves a path relative to the job's output directory.
func (t *T) File(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(t.OutputDir, name)
}

// RecordPerf appends one performance measurement for the run's CSV
// artifact.
func (t *T) RecordPerf(name string, value float64, unit string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perf = append(t.perf, types.PerfSample{
		JobKey: t.Job.Key(),
		Name:   name,
		Value:  value,
		Unit:   unit,
	})
}

// FoldProcess merges a process classification into the job's outcome.
func (t *T) FoldProcess(o types.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processOutcome = types.Worse(t.processOutcome, o)
}

func (t *T) processWorst() types.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processOutcome
}

func (t *T) perfSamples() []types.PerfSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.PerfSample, len(t.perf))
	copy(out, t.perf)
	return out
}

// Hooks are the four lifecycle stages of a job. A Setup error blocks the
// job; an Execute error is folded into the outcome but validation still
// runs to capture partial evidence; Cleanup errors are logged and ignored.
type Hooks interface {
	Setup(ctx context.Context, t *T) error
	Execute(ctx context.Context, t *T) error
	Validate(ctx context.Context, t *T) error
	Cleanup(ctx context.Context, t *T) error
}

// HookFuncs adapts plain functions to Hooks. Nil functions are no-ops, so
// a test can supply only the stages it cares about.
type HookFuncs struct {
	SetupFn    func(ctx context.Context, t *T) error
	ExecuteFn  func(ctx context.Context, t *T) error
	ValidateFn func(ctx context.Context, t *T) error
	CleanupFn  func(ctx context.Context, t *T) error
}

func (h HookFuncs) Setup(ctx context.Context, t *T) error {
	if h.SetupFn == nil {
		return nil
	}
	return h.SetupFn(ctx, t)
}

func (h HookFuncs) Execute(ctx context.Context, t *T) error {
	if h.ExecuteFn == nil {
		return nil
	}
	return h.ExecuteFn(ctx, t)
}

func (h HookFuncs) Validate(ctx context.Context, t *T) error {
	if h.ValidateFn == nil {
		return nil
	}
	return h.ValidateFn(ctx, t)
}

func (h HookFuncs) Cleanup(ctx context.Context, t *T) error {
	if h.CleanupFn == nil {
		return nil
	}
	return h.CleanupFn(ctx, t)
}

// DescriptorHooks drives a job entirely from the command steps and grep
// checks its descriptor declares. Purely declarative tests need nothing
// else.
type DescriptorHooks struct{}

func (DescriptorHooks) Setup(ctx context.Context, t *T) error {
	for _, step := range t.Job.Descriptor.Steps.Setup {
		status, err := runStep(ctx, t, step)
		if err != nil {
			return err
		}
		if outcome := status.Classify(t.Job.Descriptor); outcome != types.OutcomePassed {
			return fmt.Errorf("setup step %s finished %s", step.Name, outcome)
		}
	}
	return nil
}

func (DescriptorHooks) Execute(ctx context.Context, t *T) error {
	for _, step := range t.Job.Descriptor.Steps.Execute {
		status, err := runStep(ctx, t, step)
		if err != nil {
			return err
		}
		outcome := status.Classify(t.Job.Descriptor)
		t.FoldProcess(outcome)
		if outcome == types.OutcomeTimedOut {
			// Remaining steps are pointless after a timeout; validation
			// still runs against whatever output was captured.
			t.Log.Warn("Execute step timed out", "step", step.Name)
			return nil
		}
	}
	return nil
}

func (DescriptorHooks) Validate(ctx context.Context, t *T) error {
	for _, check := range t.Job.Descriptor.Steps.Validate {
		file := t.File(t.Expand(check.File))
		pattern := t.Expand(check.Pattern)
		if check.WaitFor {
			// Pre-poll so the recorded check runs against a settled file.
			_, err := process.WaitForGrep(ctx, file, pattern, check.Interval, t.Timeout)
			if err != nil && errors.Is(err, ctx.Err()) {
				return err
			}
		}
		t.Assert.Grep(file, pattern, check.Absent)
	}
	return nil
}

func (DescriptorHooks) Cleanup(ctx context.Context, t *T) error {
	var errs []error
	for _, step := range t.Job.Descriptor.Steps.Cleanup {
		if _, err := runStep(ctx, t, step); err != nil {
			errs = append(errs, fmt.Errorf("cleanup step %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// runStep starts one declared command in the job's output directory and
// waits for it. Mode parameters expand into arguments and env values via
// ${name} references.
func runStep(ctx context.Context, t *T, step types.Step) (process.Status, error) {
	args := make([]string, len(step.Args))
	for i, a := range step.Args {
		args[i] = t.Expand(a)
	}
	var env []string
	for k, v := range step.Env {
		env = append(env, k+"="+t.Expand(v))
	}

	h, err := t.Processes.Start(ctx, process.Command{
		Name:    step.Name,
		Path:    step.Command,
		Args:    args,
		Dir:     t.OutputDir,
		Env:     env,
		Timeout: t.Timeout,
	})
	if err != nil {
		return process.Status{}, fmt.Errorf("starting step %s: %w", step.Name, err)
	}
	return h.Wait(t.Timeout)
}
