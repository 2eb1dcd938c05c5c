package systest

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-systest/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	DescriptorFile string        // Path to the YAML descriptor file
	TestFilters    []string      // Test id/group filters, empty selects everything
	ModeFilter     string        // Mode name, registry.ModeAll, or empty for first mode
	Cycles         int           // Times to run each selected (test, mode) pair
	Concurrency    int           // Number of concurrent job workers
	FailFast       bool          // Stop dispatching after the first failure
	ValidateOnly   bool          // Replay validation against captured output
	Record         bool          // Retain passed-job output directories
	RunInterval    time.Duration // Interval between suite runs
	RunOnce        bool          // Indicates if the service should exit after one suite run
	LogDir         string        // Directory to store run output
	DefaultTimeout time.Duration // Timeout for jobs whose descriptor declares none
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	descriptorFile := ctx.String(flags.Descriptors.Name)
	if descriptorFile == "" {
		return nil, errors.New("descriptor file is required")
	}
	absDescriptorFile, err := filepath.Abs(descriptorFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for descriptor file '%s': %w", descriptorFile, err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	cycles := ctx.Int(flags.Cycles.Name)
	if cycles < 1 {
		return nil, fmt.Errorf("cycles must be at least 1, got %d", cycles)
	}
	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	validateOnly := ctx.Bool(flags.ValidateOnly.Name)
	if validateOnly && !runOnce {
		return nil, errors.New("validate-only mode cannot run on an interval")
	}

	return &Config{
		DescriptorFile: absDescriptorFile,
		TestFilters:    ctx.StringSlice(flags.Tests.Name),
		ModeFilter:     ctx.String(flags.Mode.Name),
		Cycles:         cycles,
		Concurrency:    concurrency,
		FailFast:       ctx.Bool(flags.FailFast.Name),
		ValidateOnly:   validateOnly,
		Record:         ctx.Bool(flags.Record.Name),
		RunInterval:    runInterval,
		RunOnce:        runOnce,
		LogDir:         logDir,
		DefaultTimeout: ctx.Duration(flags.DefaultTimeout.Name),
		Log:            log,
	}, nil
}
