//go:build unix

package tool

import (
	"errors"
	"os/exec"
	"syscall"
)

// killProcessGroup starts the tool in its own process group and makes context
// cancellation kill the whole group, so grandchildren holding the output pipes
// die with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
}
