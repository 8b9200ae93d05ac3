//go:build e2e

// cli_harness_test.go provides a test harness for E2E testing of the devloop CLI.
//
// The CLIHarness builds the devloop binary and provides methods for executing
// CLI commands against a fresh git repository with proper environment setup.
package integration

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/devloop/internal/testutil"
)

// CLIHarness manages a devloop CLI binary for E2E testing.
// It builds the binary once per test and executes commands in a git
// repository created for that test.
type CLIHarness struct {
	// BinaryPath is the path to the built devloop binary.
	BinaryPath string

	// WorkDir is the project the commands run in. It is a git repository
	// with one commit and no .devloop directory.
	WorkDir string

	// EnvVars contains environment variables to set for command execution.
	// These are merged with the test's default environment.
	EnvVars map[string]string

	t *testing.T
}

// CLIResult contains the output from a CLI command execution.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Success returns true if the command completed with exit code 0.
func (r *CLIResult) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// NewCLIHarness builds the devloop binary and creates a test repository.
func NewCLIHarness(t *testing.T) *CLIHarness {
	t.Helper()
	testutil.RequireGit(t)
	testutil.RequireShell(t)

	projectRoot := findProjectRootForHarness(t)
	require.NotEmpty(t, projectRoot, "could not find project root (directory containing go.mod)")

	binaryPath := filepath.Join(t.TempDir(), "devloop")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/devloop")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build devloop binary: %s", output)

	return &CLIHarness{
		BinaryPath: binaryPath,
		WorkDir:    testutil.InitRepo(t),
		EnvVars:    make(map[string]string),
		t:          t,
	}
}

// SetEnv sets an environment variable for subsequent command executions.
func (h *CLIHarness) SetEnv(key, value string) {
	h.EnvVars[key] = value
}

// Run executes a devloop command with default timeout (60 seconds).
func (h *CLIHarness) Run(args ...string) *CLIResult {
	return h.RunWithTimeout(60*time.Second, args...)
}

// RunWithTimeout executes a devloop command with the specified timeout.
func (h *CLIHarness) RunWithTimeout(timeout time.Duration, args ...string) *CLIResult {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return h.RunWithContext(ctx, args...)
}

// RunWithContext executes a devloop command with the given context.
func (h *CLIHarness) RunWithContext(ctx context.Context, args ...string) *CLIResult {
	h.t.Helper()

	cmd, stdout, stderr := h.command(ctx, args...)
	err := cmd.Run()
	return newCLIResult(stdout, stderr, err)
}

// Start launches a devloop command without waiting for it. Call Wait on the
// returned process to collect the result.
func (h *CLIHarness) Start(ctx context.Context, args ...string) *CLIProcess {
	h.t.Helper()

	cmd, stdout, stderr := h.command(ctx, args...)
	require.NoError(h.t, cmd.Start())
	return &CLIProcess{Cmd: cmd, stdout: stdout, stderr: stderr}
}

// CLIProcess is a running devloop command.
type CLIProcess struct {
	Cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// Wait waits for the process to exit and returns its output.
func (p *CLIProcess) Wait() *CLIResult {
	return newCLIResult(p.stdout, p.stderr, p.Cmd.Wait())
}

func (h *CLIHarness) command(ctx context.Context, args ...string) (*exec.Cmd, *bytes.Buffer, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, h.BinaryPath, args...)
	cmd.Dir = h.WorkDir
	cmd.Env = h.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return cmd, &stdout, &stderr
}

func newCLIResult(stdout, stderr *bytes.Buffer, err error) *CLIResult {
	result := &CLIResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.Err = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}
	return result
}

// buildEnv creates the environment variable slice for command execution.
// DEVLOOP_* variables from the outer environment are dropped so that only
// the test's config applies.
func (h *CLIHarness) buildEnv() []string {
	env := []string{}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "DEVLOOP_") {
			continue
		}
		env = append(env, e)
	}

	for k, v := range h.EnvVars {
		env = append(env, k+"="+v)
	}

	return env
}

// findProjectRootForHarness walks up from the current directory to find the
// directory containing go.mod.
func findProjectRootForHarness(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// RequireSuccess fails the test if the command result indicates failure.
func (h *CLIHarness) RequireSuccess(result *CLIResult, msgAndArgs ...interface{}) {
	h.t.Helper()
	if !result.Success() {
		msg := "command failed"
		if len(msgAndArgs) > 0 {
			if s, ok := msgAndArgs[0].(string); ok {
				msg = s
			}
		}
		h.t.Fatalf("%s: exit=%d err=%v\nstdout: %s\nstderr: %s",
			msg, result.ExitCode, result.Err, result.Stdout, result.Stderr)
	}
}

// RequireFailure fails the test if the command result indicates success.
func (h *CLIHarness) RequireFailure(result *CLIResult, msgAndArgs ...interface{}) {
	h.t.Helper()
	if result.Success() {
		msg := "expected command to fail"
		if len(msgAndArgs) > 0 {
			if s, ok := msgAndArgs[0].(string); ok {
				msg = s
			}
		}
		h.t.Fatalf("%s: command succeeded unexpectedly\nstdout: %s\nstderr: %s",
			msg, result.Stdout, result.Stderr)
	}
}
