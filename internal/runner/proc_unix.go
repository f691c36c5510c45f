//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// killGroup starts the process in its own group and kills the whole group
// on cancellation, so shells do not leave their children running.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
