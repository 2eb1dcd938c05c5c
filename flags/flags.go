package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "OP_SYSTEST"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Descriptors = &cli.StringFlag{
		Name:     "descriptors",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("DESCRIPTORS"),
		Usage:    "Path to the test descriptor file (eg. 'tests.yaml')",
	}
	Tests = &cli.StringSliceFlag{
		Name:    "test",
		EnvVars: prefixEnvVars("TEST"),
		Usage:   "Test selection: exact id, '~substring', 'group:<name>', 'requires:<tag>', '!'-prefix to exclude. Repeatable; empty selects everything.",
	}
	Mode = &cli.StringFlag{
		Name:    "mode",
		Value:   "",
		EnvVars: prefixEnvVars("MODE"),
		Usage:   "Mode to run: a mode name, 'ALL' for every declared mode, empty for each test's first mode",
	}
	Cycles = &cli.IntFlag{
		Name:    "cycles",
		Value:   1,
		EnvVars: prefixEnvVars("CYCLES"),
		Usage:   "Number of times to run each selected (test, mode) pair",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Number of concurrent job workers",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: prefixEnvVars("FAIL_FAST"),
		Usage:   "Stop dispatching new jobs after the first failure; in-flight jobs still finish and clean up",
	}
	ValidateOnly = &cli.BoolFlag{
		Name:    "validate-only",
		Value:   false,
		EnvVars: prefixEnvVars("VALIDATE_ONLY"),
		Usage:   "Replay validation against previously captured output instead of executing processes",
	}
	Record = &cli.BoolFlag{
		Name:    "record",
		Value:   false,
		EnvVars: prefixEnvVars("RECORD"),
		Usage:   "Retain output directories of passed jobs for later validate-only replays",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between suite runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store run output under",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   10 * time.Minute,
		EnvVars: prefixEnvVars("DEFAULT_TIMEOUT"),
		Usage:   "Timeout for jobs whose descriptor declares none",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log.level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: trace, debug, info, warn, error",
	}
)

var requiredFlags = []cli.Flag{
	Descriptors,
}

var optionalFlags = []cli.Flag{
	Tests,
	Mode,
	Cycles,
	Concurrency,
	FailFast,
	ValidateOnly,
	Record,
	RunInterval,
	LogDir,
	DefaultTimeout,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
