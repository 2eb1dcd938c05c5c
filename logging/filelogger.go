package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

const (
	ResultsFilename = "results.jsonl"
	SummaryFilename = "summary.log"

	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
)

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	// Start the background writer
	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	// Make a copy of the data to avoid race conditions
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	// Send data to the queue
	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		_, err := af.file.Write(data)
		if err != nil {
			// Log the error but continue processing
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	// Wait for all writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// FileLogger owns the on-disk layout of one run: the run directory, the
// machine-readable result log, and the human summary. Job output
// directories live directly under the run directory.
type FileLogger struct {
	log     log.Logger
	baseDir string
	runID   string
	runDir  string

	mu           sync.Mutex
	asyncWriters map[string]*AsyncFile
}

// NewFileLogger creates the run directory under baseDir.
func NewFileLogger(logger log.Logger, baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}

	runDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return &FileLogger{
		log:          logger,
		baseDir:      baseDir,
		runID:        runID,
		runDir:       runDir,
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// RunID returns the run identifier.
func (l *FileLogger) RunID() string {
	return l.runID
}

// RunDir returns the run directory; job output directories are created
// beneath it.
func (l *FileLogger) RunDir() string {
	return l.runDir
}

// ResultsFile returns the path of the JSONL result log.
func (l *FileLogger) ResultsFile() string {
	return filepath.Join(l.runDir, ResultsFilename)
}

// SummaryFile returns the path of the human-readable summary.
func (l *FileLogger) SummaryFile() string {
	return filepath.Join(l.runDir, SummaryFilename)
}

// LogResult appends one entry to the JSONL result log.
func (l *FileLogger) LogResult(entry types.ResultLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result entry: %w", err)
	}
	w, err := l.getAsyncWriter(l.ResultsFile())
	if err != nil {
		return err
	}
	return w.Write(append(data, '\n'))
}

// LogSummary writes the run summary text.
func (l *FileLogger) LogSummary(summary string) error {
	w, err := l.getAsyncWriter(l.SummaryFile())
	if err != nil {
		return err
	}
	return w.Write([]byte(summary))
}

// getAsyncWriter returns an async writer for the path, creating it on
// first use.
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.asyncWriters[path]; ok {
		return w, nil
	}
	w, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = w
	return w, nil
}

// Complete flushes and closes every writer. Call once, after the run's
// last result is logged.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for path, w := range l.asyncWriters {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close writer for %s: %w", path, err)
		}
		delete(l.asyncWriters, path)
	}
	return firstErr
}

// PruneCleanJobs removes the output directories of jobs that ended
// SKIPPED or PASSED. Directories of anything worse are always retained
// as evidence; keepAll retains everything for later replays.
func (l *FileLogger) PruneCleanJobs(entries []types.ResultLogEntry, keepAll bool) {
	if keepAll {
		return
	}
	for _, entry := range entries {
		outcome, err := types.ParseOutcome(entry.Outcome)
		if err != nil || !outcome.OK() {
			continue
		}
		if entry.OutputDir == "" || filepath.Dir(entry.OutputDir) != l.runDir {
			continue
		}
		if err := os.RemoveAll(entry.OutputDir); err != nil {
			l.log.Warn("Failed to prune job output directory", "dir", entry.OutputDir, "err", err)
		}
	}
}
