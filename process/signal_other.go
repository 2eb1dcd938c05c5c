//go:build !unix

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op on platforms without process groups.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroupWithSIGKILL kills the process directly.
func killProcessGroupWithSIGKILL(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// terminationSignal is unavailable on this platform.
func terminationSignal(exitErr *exec.ExitError) (syscall.Signal, bool) {
	return 0, false
}

func isCoreSignal(sig syscall.Signal) bool {
	return false
}
