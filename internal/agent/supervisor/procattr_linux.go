//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the agent in its own process group and asks the kernel to
// send it SIGTERM if the host dies without stopping it.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
