package reporting

import (
	"github.com/ethereum-optimism/infra/op-systest/logging"
	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// JSONLSink appends one JSON line per finished job to the run's
// results.jsonl, in completion order.
type JSONLSink struct {
	logger *logging.FileLogger
}

func NewJSONLSink(logger *logging.FileLogger) *JSONLSink {
	return &JSONLSink{logger: logger}
}

func (s *JSONLSink) Name() string {
	return "jsonl"
}

func (s *JSONLSink) OnJobComplete(result *runner.JobResult) error {
	return s.logger.LogResult(entryFor(result))
}

func (s *JSONLSink) OnRunComplete(summary *types.RunSummary) error {
	return nil
}
