package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

// PerfFileName is the run-level performance artifact.
const PerfFileName = "performance.csv"

var perfHeader = []string{"resultKey", "name", "value", "unit", "timestamp"}

// PerfRecorder appends performance samples to a CSV artifact. The file is
// append-only: samples are flushed as they arrive so a crashed run still
// leaves usable measurements behind.
type PerfRecorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
	now  func() time.Time
}

// NewPerfRecorder creates the CSV file and writes its header.
func NewPerfRecorder(path string) (*PerfRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating performance file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(perfHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing performance header: %w", err)
	}
	w.Flush()
	return &PerfRecorder{path: path, file: f, w: w, now: time.Now}, nil
}

// Record appends one sample.
func (p *PerfRecorder) Record(sample types.PerfSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return fmt.Errorf("performance recorder already closed")
	}

	row := []string{
		sample.JobKey,
		sample.Name,
		strconv.FormatFloat(sample.Value, 'g', -1, 64),
		sample.Unit,
		p.now().UTC().Format(time.RFC3339),
	}
	if err := p.w.Write(row); err != nil {
		return fmt.Errorf("writing performance sample: %w", err)
	}
	p.w.Flush()
	return p.w.Error()
}

// RecordAll appends every sample of a finished job.
func (p *PerfRecorder) RecordAll(samples []types.PerfSample) error {
	for _, s := range samples {
		if err := p.Record(s); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the artifact location.
func (p *PerfRecorder) Path() string {
	return p.path
}

// Close flushes and closes the artifact.
func (p *PerfRecorder) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	p.w.Flush()
	err := p.file.Close()
	p.file = nil
	return err
}
