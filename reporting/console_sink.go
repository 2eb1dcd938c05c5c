package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// ConsoleSink prints one line per finished job as the run progresses.
// Outcome tokens are emitted literally so the output stays grep-able.
type ConsoleSink struct {
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Name() string {
	return "console"
}

func (s *ConsoleSink) OnJobComplete(result *runner.JobResult) error {
	line := fmt.Sprintf("%-11s %s (%s)", result.Outcome, result.Job.Key(), result.Duration.Round(time.Millisecond))
	if result.Reason != "" {
		line += " - " + result.Reason
	}
	_, err := fmt.Fprintln(s.out, line)
	return err
}

func (s *ConsoleSink) OnRunComplete(summary *types.RunSummary) error {
	_, err := fmt.Fprintf(s.out, "Run %s finished: %s\n", summary.RunID, summary.Worst())
	return err
}
