package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-systest/logging"
	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// TextSummarySink renders the run summary into the human-readable
// summary.log when the run completes.
type TextSummarySink struct {
	logger *logging.FileLogger
}

func NewTextSummarySink(logger *logging.FileLogger) *TextSummarySink {
	return &TextSummarySink{logger: logger}
}

func (s *TextSummarySink) Name() string {
	return "text-summary"
}

func (s *TextSummarySink) OnJobComplete(result *runner.JobResult) error {
	return nil
}

func (s *TextSummarySink) OnRunComplete(summary *types.RunSummary) error {
	return s.logger.LogSummary(RenderSummary(summary))
}

// severityOrder walks outcomes worst-first so the most important buckets
// lead the summary.
var severityOrder = []types.Outcome{
	types.OutcomeDumpedCore,
	types.OutcomeBlocked,
	types.OutcomeFailed,
	types.OutcomeTimedOut,
	types.OutcomeNotVerified,
	types.OutcomeInspect,
	types.OutcomePassed,
	types.OutcomeSkipped,
}

// RenderSummary produces the text form of a run summary. Outcome tokens
// are emitted literally for downstream renderers.
func RenderSummary(summary *types.RunSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Test run %s\n", summary.RunID)
	fmt.Fprintf(&b, "Duration: %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Jobs: %d total, %d passed, %d failed, %d skipped, %d warned\n",
		summary.Stats.Total, summary.Stats.Passed, summary.Stats.Failed,
		summary.Stats.Skipped, summary.Stats.Warned)
	fmt.Fprintf(&b, "Result: %s\n", summary.Worst())

	for _, outcome := range severityOrder {
		jobs := summary.ByOutcome[outcome]
		if len(jobs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", outcome, len(jobs))
		for _, key := range jobs {
			fmt.Fprintf(&b, "  %s\n", key)
		}
	}

	if failures := failureReasons(summary); len(failures) > 0 {
		b.WriteString("\nFailure detail:\n")
		for _, line := range failures {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}

func failureReasons(summary *types.RunSummary) []string {
	var out []string
	for _, entry := range summary.Entries {
		outcome, err := types.ParseOutcome(entry.Outcome)
		if err != nil || !outcome.IsFailure() || entry.Reason == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", entry.JobKey, entry.Reason))
	}
	return out
}
