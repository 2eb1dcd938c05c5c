package systest

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(summary *types.RunSummary) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults renders the run summary as a table on stdout.
func (f *ConsoleResultFormatter) FormatResults(summary *types.RunSummary) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("System Test Results (%s)", formatDuration(summary.Duration)))

	t.AppendHeader(table.Row{
		"Test", "Mode", "Cycle", "Duration", "Outcome", "Reason",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Cycle", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Reason", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, entry := range summary.Entries {
		t.AppendRow(table.Row{
			entry.TestID,
			entry.Mode,
			entry.Cycle,
			formatDuration(entry.Duration),
			getOutcomeString(entry.Outcome),
			entry.Reason,
		})
	}

	worst := summary.Worst()
	switch {
	case worst == types.OutcomeSkipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case worst.OK():
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case worst.IsFailure():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		summary.Stats.Total,
		formatDuration(summary.Duration),
		worst.String(),
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d warned",
			summary.Stats.Passed, summary.Stats.Failed, summary.Stats.Skipped, summary.Stats.Warned),
	})

	t.Render()
	return nil
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
