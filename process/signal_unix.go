//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup runs the command in its own process group so kills reach
// any children it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroupWithSIGKILL sends SIGKILL to the entire process group.
func killProcessGroupWithSIGKILL(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// terminationSignal extracts the signal that terminated the process, if any.
func terminationSignal(exitErr *exec.ExitError) (syscall.Signal, bool) {
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return ws.Signal(), true
}

// isCoreSignal reports whether the signal is an abnormal-termination signal
// of the kind that produces a core dump.
func isCoreSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGBUS, syscall.SIGQUIT, syscall.SIGILL, syscall.SIGFPE:
		return true
	}
	return false
}
