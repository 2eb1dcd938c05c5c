package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

func TestStartValidatesCommand(t *testing.T) {
	s := NewSupervisor(nil)

	_, err := s.Start(context.Background(), Command{Path: "/bin/true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	_, err = s.Start(context.Background(), Command{Name: "noop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestStartCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h, err := s.Start(context.Background(), Command{
		Name: "hello",
		Path: "/bin/sh",
		Args: []string{"-c", "echo out-line; echo err-line >&2"},
		Dir:  dir,
	})
	require.NoError(t, err)

	status, err := h.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ExitCode)
	assert.False(t, status.TimedOut)

	out, err := os.ReadFile(filepath.Join(dir, "hello.out"))
	require.NoError(t, err)
	assert.Equal(t, "out-line\n", string(out))

	errOut, err := os.ReadFile(filepath.Join(dir, "hello.err"))
	require.NoError(t, err)
	assert.Equal(t, "err-line\n", string(errOut))
}

func TestWaitTimesOutAndKills(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h, err := s.Start(context.Background(), Command{
		Name: "sleeper",
		Path: "/bin/sleep",
		Args: []string{"60"},
		Dir:  dir,
	})
	require.NoError(t, err)

	start := time.Now()
	status, err := h.Wait(200 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, status.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, h.Running())
}

func TestWaitAfterExitAndExpiredDeadline(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h, err := s.Start(context.Background(), Command{
		Name:    "quick",
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo done"},
		Dir:     dir,
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	// Let the process exit and the declared deadline lapse before the
	// first Wait: a finished process must never be reported timed out.
	require.Eventually(t, func() bool { return !h.Running() }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	status, err := h.Wait(time.Minute)
	require.NoError(t, err)
	assert.False(t, status.TimedOut)
	assert.Equal(t, 0, status.ExitCode)
}

func TestDeclaredTimeoutBoundsWait(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h, err := s.Start(context.Background(), Command{
		Name:    "sleeper",
		Path:    "/bin/sleep",
		Args:    []string{"60"},
		Dir:     dir,
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	// Caller allows longer, but the command's declared timeout wins.
	status, err := h.Wait(time.Minute)
	require.NoError(t, err)
	assert.True(t, status.TimedOut)
}

func TestStatusClassification(t *testing.T) {
	plain := &types.TestDescriptor{ID: "t"}
	tolerant := &types.TestDescriptor{ID: "t", ExpectedExitCodes: []int{0, 3}}

	tests := []struct {
		name       string
		status     Status
		descriptor *types.TestDescriptor
		want       types.Outcome
	}{
		{"clean exit", Status{ExitCode: 0}, plain, types.OutcomePassed},
		{"timeout", Status{TimedOut: true}, plain, types.OutcomeTimedOut},
		{"core signal", Status{ExitCode: -1, Signaled: true, CoreSignal: true}, plain, types.OutcomeDumpedCore},
		{"unexpected exit", Status{ExitCode: 3}, plain, types.OutcomeBlocked},
		{"declared exit", Status{ExitCode: 3}, tolerant, types.OutcomePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Classify(tt.descriptor))
		})
	}
}

func TestNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h, err := s.Start(context.Background(), Command{
		Name: "failing",
		Path: "/bin/sh",
		Args: []string{"-c", "exit 3"},
		Dir:  dir,
	})
	require.NoError(t, err)

	status, err := h.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ExitCode)
	assert.False(t, status.Signaled)
}

func TestTerminateAll(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(nil)

	h1, err := s.Start(context.Background(), Command{
		Name: "s1", Path: "/bin/sleep", Args: []string{"60"}, Dir: dir,
	})
	require.NoError(t, err)
	h2, err := s.Start(context.Background(), Command{
		Name: "s2", Path: "/bin/sleep", Args: []string{"60"}, Dir: dir,
	})
	require.NoError(t, err)

	s.TerminateAll()
	assert.False(t, h1.Running())
	assert.False(t, h2.Running())
}

func TestLineWriterBuffersPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.out")
	w, err := newLineWriter(path)
	require.NoError(t, err)

	_, err = w.Write([]byte("complete line\npartial"))
	require.NoError(t, err)

	// Only the complete line has hit the disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete line\n", string(data))

	_, err = w.Write([]byte(" end\n"))
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete line\npartial end\n", string(data))

	require.NoError(t, w.Close())
}

func TestLineWriterFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.out")
	w, err := newLineWriter(path)
	require.NoError(t, err)

	_, err = w.Write([]byte("no trailing newline"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "no trailing newline", string(data))
}
