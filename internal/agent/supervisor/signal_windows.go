//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
)

// terminateProcessGroup asks the tree to close. Without /F, taskkill sends
// WM_CLOSE, the closest Windows equivalent of SIGTERM.
func terminateProcessGroup(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func killProcessGroup(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func exitStatusFrom(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: state.ExitCode()}
}
