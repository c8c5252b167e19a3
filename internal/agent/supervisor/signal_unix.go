//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

func terminateProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// signalGroup signals the whole group, falling back to the leader alone if
// the group is already gone.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func exitStatusFrom(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: 128 + int(ws.Signal()), Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: state.ExitCode()}
}
