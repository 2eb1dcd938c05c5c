package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

// Command describes one external process to supervise.
type Command struct {
	Name    string   // logical name; log files are <Name>.out / <Name>.err
	Path    string   // executable path
	Args    []string
	Dir     string   // working directory, also where log files land
	Env     []string // appended to the inherited environment
	Timeout time.Duration
}

// Status is the terminal state of a supervised process.
type Status struct {
	ExitCode   int
	TimedOut   bool
	Signaled   bool
	CoreSignal bool // terminated by an abnormal-termination signal
}

// Classify maps the status onto an outcome, honoring exit codes the
// descriptor declares as expected.
func (s Status) Classify(d *types.TestDescriptor) types.Outcome {
	switch {
	case s.TimedOut:
		return types.OutcomeTimedOut
	case s.CoreSignal:
		return types.OutcomeDumpedCore
	case d.ExpectsExit(s.ExitCode):
		return types.OutcomePassed
	default:
		return types.OutcomeBlocked
	}
}

// Handle tracks one running process. A handle is owned by the worker that
// started it and must not be shared.
type Handle struct {
	Name       string
	StdoutPath string
	StderrPath string

	cmd      *exec.Cmd
	stdout   *lineWriter
	stderr   *lineWriter
	deadline time.Time

	done    chan struct{}
	waitErr error

	mu     sync.Mutex
	status Status
	ended  bool
}

// Supervisor launches and monitors the external processes of a single job.
// Each job gets its own supervisor; it is not safe for use by multiple
// jobs at once.
type Supervisor struct {
	log log.Logger

	mu      sync.Mutex
	handles []*Handle
}

// NewSupervisor creates a supervisor logging through the given logger.
func NewSupervisor(logger log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Supervisor{log: logger}
}

// Start launches the command without waiting for it. Output is written
// line-buffered to <Name>.out and <Name>.err in the working directory so
// grep operates on stable files while the process still runs.
func (s *Supervisor) Start(ctx context.Context, cmd Command) (*Handle, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}
	if cmd.Path == "" {
		return nil, fmt.Errorf("command path is required")
	}

	stdoutPath := filepath.Join(cmd.Dir, cmd.Name+".out")
	stderrPath := filepath.Join(cmd.Dir, cmd.Name+".err")

	stdout, err := newLineWriter(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("creating stdout log: %w", err)
	}
	stderr, err := newLineWriter(stderrPath)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("creating stderr log: %w", err)
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = stdout
	c.Stderr = stderr
	setProcessGroup(c)

	if err := c.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("starting %s: %w", cmd.Name, err)
	}

	h := &Handle{
		Name:       cmd.Name,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		cmd:        c,
		stdout:     stdout,
		stderr:     stderr,
		done:       make(chan struct{}),
	}
	if cmd.Timeout > 0 {
		h.deadline = time.Now().Add(cmd.Timeout)
	}

	s.log.Debug("Process started", "name", cmd.Name, "path", cmd.Path, "pid", c.Process.Pid, "timeout", cmd.Timeout)

	go func() {
		err := c.Wait()
		h.finish(err)
		s.log.Debug("Process exited", "name", cmd.Name, "status", h.Status())
	}()

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	return h, nil
}

// finish records the terminal state exactly once.
func (h *Handle) finish(waitErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	h.ended = true

	h.stdout.Close()
	h.stderr.Close()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		h.status.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		h.status.ExitCode = exitErr.ExitCode()
		sig, signaled := terminationSignal(exitErr)
		h.status.Signaled = signaled
		h.status.CoreSignal = signaled && isCoreSignal(sig)
	default:
		h.waitErr = waitErr
	}

	close(h.done)
}

// Wait blocks until the process exits or the timeout elapses. A process
// that outlives the effective timeout (the smaller of the argument and the
// command's declared deadline) is forcibly terminated and reported as
// timed out. The returned error is a harness fault, never a test outcome.
func (h *Handle) Wait(timeout time.Duration) (Status, error) {
	effective := timeout
	if !h.deadline.IsZero() {
		if remaining := time.Until(h.deadline); effective <= 0 || remaining < effective {
			effective = remaining
		}
	}

	var expired <-chan time.Time
	if effective > 0 {
		timer := time.NewTimer(effective)
		defer timer.Stop()
		expired = timer.C
	} else if !h.deadline.IsZero() {
		// Deadline already passed.
		ch := make(chan time.Time)
		close(ch)
		expired = ch
	}

	// An exited process is never timed out, even when the deadline has
	// also passed; without this check the select below is a coin flip.
	select {
	case <-h.done:
		return h.Status(), h.waitErr
	default:
	}

	select {
	case <-h.done:
		return h.Status(), h.waitErr
	case <-expired:
	}

	h.mu.Lock()
	h.status.TimedOut = true
	h.mu.Unlock()

	_ = killProcessGroupWithSIGKILL(h.cmd)
	<-h.done
	return h.Status(), nil
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Status returns a snapshot of the process state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Terminate forcibly kills the process and its children.
func (h *Handle) Terminate() {
	if h.Running() {
		_ = killProcessGroupWithSIGKILL(h.cmd)
		<-h.done
	}
}

// TerminateAll force-kills every process the supervisor has started that is
// still running. Used on cancellation and during cleanup.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	handles := make([]*Handle, len(s.handles))
	copy(handles, s.handles)
	s.mu.Unlock()

	for _, h := range handles {
		if h.Running() {
			s.log.Warn("Terminating still-running process", "name", h.Name)
			h.Terminate()
		}
	}
}

// lineWriter writes complete lines straight to disk and buffers only the
// trailing partial line, so readers always see whole lines.
type lineWriter struct {
	mu      sync.Mutex
	file    *os.File
	partial []byte
	closed  bool
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &lineWriter{file: f}, nil
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}

	w.partial = append(w.partial, p...)
	if i := lastNewline(w.partial); i >= 0 {
		if _, err := w.file.Write(w.partial[:i+1]); err != nil {
			return 0, err
		}
		w.partial = append(w.partial[:0], w.partial[i+1:]...)
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.partial) > 0 {
		_, _ = w.file.Write(w.partial)
		w.partial = nil
	}
	return w.file.Close()
}

func lastNewline(p []byte) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '\n' {
			return i
		}
	}
	return -1
}
