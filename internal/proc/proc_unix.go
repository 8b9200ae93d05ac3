//go:build unix

// Package proc holds the platform specific parts of child process control.
package proc

import (
	"os/exec"
	"syscall"
)

// SetGroup puts the command in its own process group so that Terminate also
// reaches any descendants it spawned.
func SetGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends SIGTERM to the command's process group. Use it as
// exec.Cmd.Cancel; exec escalates to SIGKILL after WaitDelay.
func Terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}
