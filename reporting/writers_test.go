package reporting

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-systest/logging"
	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

func jobResult(id string, outcome types.Outcome, reason string) *runner.JobResult {
	d := &types.TestDescriptor{ID: id}
	return &runner.JobResult{
		Job:      types.Job{Descriptor: d, Mode: types.Mode{Name: "primary"}, Cycle: 0},
		Outcome:  outcome,
		Reason:   reason,
		Duration: 25 * time.Millisecond,
	}
}

func sampleSummary() *types.RunSummary {
	return &types.RunSummary{
		RunID: "run-1",
		ByOutcome: map[types.Outcome][]string{
			types.OutcomePassed: {"Server_001:primary:0"},
			types.OutcomeFailed: {"Server_002:primary:0"},
		},
		Entries: []types.ResultLogEntry{
			{JobKey: "Server_001:primary:0", Outcome: "PASSED"},
			{JobKey: "Server_002:primary:0", Outcome: "FAILED",
				Reason: "Assert that {actual == expected} with actual=12 expected=34 ... failed"},
		},
		Stats:    types.RunStats{Total: 2, Passed: 1, Failed: 1},
		Duration: 2 * time.Second,
	}
}

type recordingWriter struct {
	name      string
	jobs      []string
	completed bool
	fail      bool
}

func (w *recordingWriter) Name() string { return w.name }

func (w *recordingWriter) OnJobComplete(result *runner.JobResult) error {
	if w.fail {
		return errors.New("writer broken")
	}
	w.jobs = append(w.jobs, result.Job.Key())
	return nil
}

func (w *recordingWriter) OnRunComplete(summary *types.RunSummary) error {
	if w.fail {
		return errors.New("writer broken")
	}
	w.completed = true
	return nil
}

func TestRegistryFansOut(t *testing.T) {
	r := NewRegistry(nil)
	w1 := &recordingWriter{name: "first"}
	w2 := &recordingWriter{name: "second"}
	r.Register(w1)
	r.Register(w2)

	r.JobComplete(jobResult("Server_001", types.OutcomePassed, ""))
	r.RunComplete(sampleSummary())

	assert.Equal(t, []string{"Server_001:primary:0"}, w1.jobs)
	assert.Equal(t, []string{"Server_001:primary:0"}, w2.jobs)
	assert.True(t, w1.completed)
	assert.True(t, w2.completed)
}

func TestRegistryToleratesFailingWriter(t *testing.T) {
	r := NewRegistry(nil)
	broken := &recordingWriter{name: "broken", fail: true}
	healthy := &recordingWriter{name: "healthy"}
	r.Register(broken)
	r.Register(healthy)

	r.JobComplete(jobResult("Server_001", types.OutcomePassed, ""))
	r.RunComplete(sampleSummary())

	assert.Equal(t, []string{"Server_001:primary:0"}, healthy.jobs)
	assert.True(t, healthy.completed)
}

func TestJSONLSink(t *testing.T) {
	flog, err := logging.NewFileLogger(nil, t.TempDir(), "run-1")
	require.NoError(t, err)
	sink := NewJSONLSink(flog)

	require.NoError(t, sink.OnJobComplete(jobResult("Server_001", types.OutcomePassed, "")))
	require.NoError(t, sink.OnJobComplete(jobResult("Server_002", types.OutcomeFailed, "boom")))
	require.NoError(t, flog.Complete())

	data, err := os.ReadFile(flog.ResultsFile())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"outcome":"PASSED"`)
	assert.Contains(t, lines[1], `"outcome":"FAILED"`)
}

func TestTextSummarySink(t *testing.T) {
	flog, err := logging.NewFileLogger(nil, t.TempDir(), "run-1")
	require.NoError(t, err)
	sink := NewTextSummarySink(flog)

	require.NoError(t, sink.OnRunComplete(sampleSummary()))
	require.NoError(t, flog.Complete())

	data, err := os.ReadFile(flog.SummaryFile())
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Result: FAILED")
	assert.Contains(t, text, "FAILED (1):")
	assert.Contains(t, text, "PASSED (1):")
	assert.Contains(t, text, "Server_002:primary:0: Assert that {actual == expected} with actual=12 expected=34 ... failed")
}

func TestRenderSummaryListsWorstFirst(t *testing.T) {
	text := RenderSummary(sampleSummary())
	assert.Less(t, strings.Index(text, "FAILED (1)"), strings.Index(text, "PASSED (1)"))
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	require.NoError(t, sink.OnJobComplete(jobResult("Server_002", types.OutcomeFailed, "assertion failed")))
	require.NoError(t, sink.OnRunComplete(sampleSummary()))

	out := buf.String()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Server_002:primary:0")
	assert.Contains(t, out, "Run run-1 finished: FAILED")
}
