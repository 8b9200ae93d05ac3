//go:build !unix

// Package proc holds the platform specific parts of child process control.
package proc

import "os/exec"

// SetGroup is a no-op on this platform.
func SetGroup(*exec.Cmd) {}

// Terminate kills the command's process.
func Terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
