//go:build unix && !linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the agent in its own process group. Pdeathsig is
// Linux-only, so orphans here rely on an explicit stop.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
