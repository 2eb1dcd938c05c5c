package systest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-systest/logging"
	"github.com/ethereum-optimism/infra/op-systest/metrics"
	"github.com/ethereum-optimism/infra/op-systest/registry"
	"github.com/ethereum-optimism/infra/op-systest/reporting"
	"github.com/ethereum-optimism/infra/op-systest/results"
	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/scheduler"
)

// systest is the orchestration service: it owns the registry, drives suite
// runs through the run loop, and fans results out to the reporting sinks.
type systest struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	loop      RunLoop
	formatter ResultFormatter
}

func New(ctx context.Context, config *Config, version string) (*systest, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating service with config",
		"descriptorFile", config.DescriptorFile,
		"logDir", config.LogDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"validateOnly", config.ValidateOnly)

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		DescriptorFile: config.DescriptorFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	s := &systest{
		ctx:       ctx,
		config:    config,
		version:   version,
		registry:  reg,
		loop:      NewIntervalRunLoop(config.RunInterval, config.Log),
		formatter: NewConsoleResultFormatter(config.Log),
	}
	s.loop.RegisterCallback(func() error {
		err := s.runSuite()
		if err != nil && !config.RunOnce && IsTestFailureError(err) {
			// A failing suite must not take down the continuous
			// service; the failure is already reported and metered.
			config.Log.Warn("Suite run finished with failures", "error", err)
			return nil
		}
		return err
	})

	config.Log.Info("Created service", "version", version, "descriptors", len(reg.Descriptors()))
	return s, nil
}

// Start runs the suite, once or on the configured interval. In run-once
// mode the run's error classification is returned directly: a
// TestFailureError for failed jobs, a RuntimeError for harness faults.
func (s *systest) Start(ctx context.Context) error {
	s.ctx = ctx

	if s.config.RunOnce {
		s.config.Log.Info("Starting op-systest in run-once mode")
	} else {
		s.config.Log.Info("Starting op-systest in continuous mode", "interval", s.config.RunInterval)
	}

	return s.loop.Start(ctx)
}

// Stop stops the service.
func (s *systest) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-systest")
	return s.loop.Stop()
}

// Stopped returns true if the service is stopped.
func (s *systest) Stopped() bool {
	return s.loop.Stopped()
}

// WaitForShutdown blocks until all background goroutines have terminated.
func (s *systest) WaitForShutdown(ctx context.Context) error {
	return s.loop.WaitForShutdown(ctx)
}

// runSuite performs one complete suite run: select, materialize, execute,
// aggregate, report.
func (s *systest) runSuite() error {
	cfg := s.config
	start := time.Now()

	runID := uuid.New().String()
	if cfg.ValidateOnly {
		// Replay against the most recent captured run instead of
		// starting a fresh one.
		previous, err := latestRunID(cfg.LogDir)
		if err != nil {
			return NewRuntimeError(fmt.Errorf("no captured run to validate: %w", err))
		}
		runID = previous
		cfg.Log.Info("Replaying validation against captured run", "run_id", runID)
	}

	flog, err := logging.NewFileLogger(cfg.Log, cfg.LogDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	// Flush on every exit path; a fault mid-run must not leak the async
	// writers in continuous mode.
	defer func() {
		if err := flog.Complete(); err != nil {
			cfg.Log.Error("Failed to flush run artifacts", "error", err)
		}
	}()

	selection := s.registry.Select(cfg.TestFilters, cfg.ModeFilter)
	if len(selection) == 0 {
		metrics.RecordError("no_tests_selected")
		return NewRuntimeError(fmt.Errorf("no tests matched filters %v (mode %q)", cfg.TestFilters, cfg.ModeFilter))
	}
	jobs := scheduler.Materialize(selection, cfg.Cycles)
	cfg.Log.Info("Starting suite run", "run_id", runID, "jobs", len(jobs), "concurrency", cfg.Concurrency)

	jobRunner, err := runner.NewRunner(runner.Config{
		Log:            cfg.Log,
		WorkDir:        flog.RunDir(),
		DefaultTimeout: cfg.DefaultTimeout,
		ValidateOnly:   cfg.ValidateOnly,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Log:         cfg.Log,
		Runner:      jobRunner,
		RunID:       runID,
		Concurrency: cfg.Concurrency,
		FailFast:    cfg.FailFast,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create scheduler: %w", err))
	}

	agg, err := results.NewAggregator(results.Config{
		Log:      cfg.Log,
		RunID:    runID,
		Expected: jobs,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create aggregator: %w", err))
	}

	perf, err := results.NewPerfRecorder(filepath.Join(flog.RunDir(), results.PerfFileName))
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create performance recorder: %w", err))
	}
	defer func() {
		if err := perf.Close(); err != nil {
			cfg.Log.Error("Failed to close performance recorder", "error", err)
		}
	}()

	reporters := reporting.NewRegistry(cfg.Log)
	reporters.Register(reporting.NewJSONLSink(flog))
	reporters.Register(reporting.NewTextSummarySink(flog))
	reporters.Register(reporting.NewConsoleSink(os.Stdout))

	jobResults, err := sched.Execute(s.ctx, jobs)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("suite execution failed: %w", err))
	}

	for _, result := range jobResults {
		if err := agg.Record(result); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to record result for %s: %w", result.Job.Key(), err))
		}
		if err := perf.RecordAll(result.Perf); err != nil {
			cfg.Log.Error("Failed to record performance samples", "job", result.Job.Key(), "error", err)
		}
		reporters.JobComplete(result)
	}

	summary, err := agg.Finalize()
	if err != nil {
		var notReady *results.NotReadyError
		if errors.As(err, &notReady) {
			// Fail-fast or cancellation left jobs unattempted; the
			// partial results are still failures worth reporting.
			return NewTestFailureError(fmt.Sprintf(
				"run %s stopped early: %d of %d jobs finished", runID, notReady.Recorded, notReady.Expected))
		}
		return NewRuntimeError(fmt.Errorf("failed to finalize run: %w", err))
	}

	reporters.RunComplete(summary)
	metrics.RecordRun(summary)
	if err := s.formatter.FormatResults(summary); err != nil {
		cfg.Log.Error("Failed to format results", "error", err)
	}

	// A replay validates against the captured output; pruning it would
	// make the next identical replay impossible.
	if !cfg.ValidateOnly {
		flog.PruneCleanJobs(summary.Entries, cfg.Record)
	}

	worst := summary.Worst()
	cfg.Log.Info("Suite run completed",
		"run_id", runID, "result", worst, "jobs", summary.Stats.Total,
		"duration", time.Since(start))

	if !worst.OK() {
		return NewTestFailureError(fmt.Sprintf("run %s finished %s: %d passed, %d failed, %d warned",
			runID, worst, summary.Stats.Passed, summary.Stats.Failed, summary.Stats.Warned))
	}
	return nil
}

// latestRunID finds the most recently modified run directory under baseDir
// and returns its run identifier.
func latestRunID(baseDir string) (string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to read log directory %s: %w", baseDir, err)
	}

	var best string
	var bestTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), logging.RunDirectoryPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = entry.Name()
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no run directories found in %s", baseDir)
	}
	return strings.TrimPrefix(best, logging.RunDirectoryPrefix), nil
}
