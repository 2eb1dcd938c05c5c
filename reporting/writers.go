package reporting

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/runner"
	"github.com/ethereum-optimism/infra/op-systest/types"
)

// Writer consumes job and run results. Writers are registered statically
// before the run starts; there is no dynamic discovery.
type Writer interface {
	// Name identifies the writer in logs.
	Name() string
	// OnJobComplete is called once per finished job, from whichever
	// worker finished it.
	OnJobComplete(result *runner.JobResult) error
	// OnRunComplete is called once, after the run summary is sealed.
	OnRunComplete(summary *types.RunSummary) error
}

// Registry fans results out to the registered writers. A failing writer
// is logged and skipped; it never fails the run.
type Registry struct {
	log log.Logger

	mu      sync.Mutex
	writers []Writer
}

// NewRegistry creates an empty writer registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Registry{log: logger}
}

// Register adds a writer. Not safe to call once the run has started.
func (r *Registry) Register(w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers = append(r.writers, w)
}

// JobComplete delivers one finished job to every writer.
func (r *Registry) JobComplete(result *runner.JobResult) {
	for _, w := range r.snapshot() {
		if err := w.OnJobComplete(result); err != nil {
			r.log.Error("Writer failed to consume job result", "writer", w.Name(), "job", result.Job.Key(), "err", err)
		}
	}
}

// RunComplete delivers the sealed summary to every writer.
func (r *Registry) RunComplete(summary *types.RunSummary) {
	for _, w := range r.snapshot() {
		if err := w.OnRunComplete(summary); err != nil {
			r.log.Error("Writer failed to consume run summary", "writer", w.Name(), "err", err)
		}
	}
}

func (r *Registry) snapshot() []Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Writer, len(r.writers))
	copy(out, r.writers)
	return out
}

// entryFor converts a job result into its result-log form.
func entryFor(result *runner.JobResult) types.ResultLogEntry {
	return types.ResultLogEntry{
		JobKey:    result.Job.Key(),
		TestID:    result.Job.Descriptor.ID,
		Mode:      result.Job.Mode.Name,
		Cycle:     result.Job.Cycle,
		Outcome:   result.Outcome.String(),
		Reason:    result.Reason,
		OutputDir: result.OutputDir,
		Duration:  result.Duration,
	}
}
