package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

func jobNamed(id string) types.Job {
	d := &types.TestDescriptor{ID: id}
	return types.Job{Descriptor: d, Mode: types.Mode{Name: "primary"}, Cycle: 0}
}

func resultFor(job types.Job, outcome types.Outcome) *runner.JobResult {
	return &runner.JobResult{
		Job:      job,
		Outcome:  outcome,
		Duration: 10 * time.Millisecond,
	}
}

func newAggregator(t *testing.T, expected ...types.Job) *Aggregator {
	t.Helper()
	a, err := NewAggregator(Config{RunID: "run-1", Expected: expected})
	require.NoError(t, err)
	return a
}

func TestNewAggregatorValidation(t *testing.T) {
	_, err := NewAggregator(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run ID")

	dup := jobNamed("Server_001")
	_, err = NewAggregator(Config{RunID: "run-1", Expected: []types.Job{dup, dup}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate job")
}

func TestFinalizeBeforeCompleteFails(t *testing.T) {
	j1, j2 := jobNamed("Server_001"), jobNamed("Server_002")
	a := newAggregator(t, j1, j2)

	require.NoError(t, a.Record(resultFor(j1, types.OutcomePassed)))

	_, err := a.Finalize()
	var nr *NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, 1, nr.Recorded)
	assert.Equal(t, 2, nr.Expected)
}

func TestRecordUnknownOrDuplicateJob(t *testing.T) {
	j1 := jobNamed("Server_001")
	a := newAggregator(t, j1)

	require.Error(t, a.Record(resultFor(jobNamed("Server_999"), types.OutcomePassed)))

	require.NoError(t, a.Record(resultFor(j1, types.OutcomePassed)))
	require.Error(t, a.Record(resultFor(j1, types.OutcomePassed)))
}

func TestFinalizeSummarizes(t *testing.T) {
	j1, j2, j3, j4 := jobNamed("Server_001"), jobNamed("Server_002"), jobNamed("Server_003"), jobNamed("Server_004")
	a := newAggregator(t, j1, j2, j3, j4)

	require.NoError(t, a.Record(resultFor(j1, types.OutcomePassed)))
	require.NoError(t, a.Record(resultFor(j2, types.OutcomeFailed)))
	require.NoError(t, a.Record(resultFor(j3, types.OutcomeSkipped)))
	require.NoError(t, a.Record(resultFor(j4, types.OutcomeNotVerified)))

	summary, err := a.Finalize()
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, types.OutcomeFailed, summary.Worst())
	assert.False(t, summary.OK())
	assert.Equal(t, 4, summary.Stats.Total)
	assert.Equal(t, 1, summary.Stats.Passed)
	assert.Equal(t, 1, summary.Stats.Failed)
	assert.Equal(t, 1, summary.Stats.Skipped)
	assert.Equal(t, 1, summary.Stats.Warned)

	assert.Equal(t, []string{"Server_002:primary:0"}, summary.ByOutcome[types.OutcomeFailed])
	require.Len(t, summary.Entries, 4)
	assert.Equal(t, "PASSED", summary.Entries[0].Outcome)

	// The run is sealed.
	require.Error(t, a.Record(resultFor(j1, types.OutcomePassed)))
}

func TestSkippedRunExitsClean(t *testing.T) {
	j1 := jobNamed("Server_001")
	a := newAggregator(t, j1)
	require.NoError(t, a.Record(resultFor(j1, types.OutcomeSkipped)))

	summary, err := a.Finalize()
	require.NoError(t, err)
	assert.True(t, summary.OK())
}

func TestConcurrentRecording(t *testing.T) {
	const n = 64
	jobs := make([]types.Job, n)
	for i := range jobs {
		jobs[i] = jobNamed(fmt.Sprintf("Server_%03d", i))
	}
	a := newAggregator(t, jobs...)

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job types.Job) {
			defer wg.Done()
			assert.NoError(t, a.Record(resultFor(job, types.OutcomePassed)))
		}(job)
	}
	wg.Wait()

	summary, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, n, summary.Stats.Total)
	assert.Equal(t, n, summary.Stats.Passed)
}

func TestPerfRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), PerfFileName)
	p, err := NewPerfRecorder(path)
	require.NoError(t, err)

	fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.Record(types.PerfSample{
		JobKey: "Server_001:primary:0",
		Name:   "request latency",
		Value:  12.5,
		Unit:   "ms",
	}))
	require.NoError(t, p.RecordAll([]types.PerfSample{
		{JobKey: "Server_002:primary:0", Name: "throughput", Value: 1000, Unit: "req/s"},
	}))
	require.NoError(t, p.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"resultKey,name,value,unit,timestamp\n"+
			"Server_001:primary:0,request latency,12.5,ms,2026-08-29T12:00:00Z\n"+
			"Server_002:primary:0,throughput,1000,req/s,2026-08-29T12:00:00Z\n",
		string(data))

	// Recording after close is an error.
	require.Error(t, p.Record(types.PerfSample{}))
}
