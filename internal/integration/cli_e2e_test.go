//go:build e2e

// cli_e2e_test.go provides end-to-end tests for the devloop CLI commands.
//
// These tests build and run the actual devloop binary against a scratch git
// repository, with a shell script standing in for the assistant CLI.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/devloop/internal/cli"
	"github.com/thruflo/devloop/internal/session"
	"github.com/thruflo/devloop/internal/testutil"
)

// fakeAssistant suggests a feature for the suggestion prompt and, for the
// implementation prompt, appends a line to src/features.ts so every
// iteration leaves a change to commit.
const fakeAssistant = `if grep -q "Edit the files directly" "$1"; then
  mkdir -p src
  echo "export const feature$(date +%s%N) = true" >> src/features.ts
else
  echo '{"feature": "Add feature registry", "description": "Track enabled features.", "priority": "medium", "files": ["src/features.ts"]}'
fi
`

// setupProject runs init, points the config at the fake assistant with
// always-passing verify commands, and commits .devloop with the project.
func setupProject(t *testing.T, h *CLIHarness, verifyBuild string) {
	t.Helper()

	h.RequireSuccess(h.Run("init"), "init failed")

	script := testutil.WriteScript(t, t.TempDir(), "assistant", fakeAssistant)
	cfg := fmt.Sprintf(`session:
  duration_minutes: 5
  max_iterations: 2
  commit_frequency: 1
  iteration_delay_minutes: 0
  backup_branches: true
  backup_prefix: backup-
  recovery_delay: 1s
assistant:
  command: %q
  timeout: 30s
  implement: true
  implement_timeout: 30s
verify:
  build: %q
  typecheck: "true"
  lint: "true"
  test: "true"
`, script, verifyBuild)
	require.NoError(t, os.WriteFile(filepath.Join(h.WorkDir, ".devloop", "config.yaml"), []byte(cfg), 0o644))
	testutil.CommitAll(t, h.WorkDir, "Add devloop config")
}

// TestCLI_Init verifies that 'devloop init' creates the .devloop directory.
func TestCLI_Init(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("init")
	h.RequireSuccess(result, "init command failed")

	devloopDir := filepath.Join(h.WorkDir, ".devloop")
	assert.Contains(t, result.Stdout, "Initialized")
	assert.DirExists(t, filepath.Join(devloopDir, "sessions"))
	assert.FileExists(t, filepath.Join(devloopDir, "config.yaml"))
	assert.FileExists(t, filepath.Join(devloopDir, ".gitignore"))

	content, err := os.ReadFile(filepath.Join(devloopDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "max_iterations:")
	assert.Contains(t, string(content), "commit_frequency:")
}

// TestCLI_InitAlreadyExists verifies that 'devloop init' refuses to overwrite.
func TestCLI_InitAlreadyExists(t *testing.T) {
	h := NewCLIHarness(t)
	h.RequireSuccess(h.Run("init"))

	result := h.Run("init")
	h.RequireFailure(result, "init should fail when config exists")
	assert.Contains(t, result.Stderr, "already exists")

	h.RequireSuccess(h.Run("init", "--force"), "init --force should overwrite")
}

// TestCLI_StatusNoSessions verifies that 'devloop status' works before any run.
func TestCLI_StatusNoSessions(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("status")
	h.RequireSuccess(result, "status command failed")
	assert.Contains(t, result.Stdout, "No sessions found")
}

// TestCLI_RunCommitsAndLogs runs a full session and checks the commits, the
// JSON result, the session log and the status listing.
func TestCLI_RunCommitsAndLogs(t *testing.T) {
	h := NewCLIHarness(t)
	setupProject(t, h, "true")
	before := testutil.CommitCount(t, h.WorkDir)

	result := h.Run("run", "--json")
	h.RequireSuccess(result, "run failed")

	var out cli.RunResult
	require.NoError(t, json.Unmarshal([]byte(result.Stdout), &out), "stdout: %s", result.Stdout)
	assert.Equal(t, "max iterations", out.Reason)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, 2, out.Successes)
	assert.Equal(t, 2, out.Commits)
	assert.Len(t, out.BackupBranches, 2)
	assert.Empty(t, out.Error)

	assert.Equal(t, before+2, testutil.CommitCount(t, h.WorkDir))
	assert.Contains(t, testutil.HeadMessage(t, h.WorkDir), "feat: Add feature registry")
	testutil.AssertClean(t, h.WorkDir)

	summary, err := session.NewStore(h.WorkDir, "").Load(out.LogPath)
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, summary.ID)
	assert.Len(t, summary.IterationLog, 2)

	status := h.Run("status")
	h.RequireSuccess(status)
	assert.Contains(t, status.Stdout, out.SessionID[:8])
	assert.Contains(t, status.Stdout, "2/2")

	detail := h.Run("status", out.SessionID)
	h.RequireSuccess(detail)
	assert.Contains(t, detail.Stdout, "Session Details")
	assert.Contains(t, detail.Stdout, "Add feature registry (committed)")
}

// TestCLI_RunRollsBackFailedVerification checks that a failing build leaves
// the repository as it was.
func TestCLI_RunRollsBackFailedVerification(t *testing.T) {
	h := NewCLIHarness(t)
	setupProject(t, h, "echo 'src/features.ts: syntax error' >&2; exit 1")
	before := testutil.CommitCount(t, h.WorkDir)

	result := h.Run("run", "--json", "--max-iterations", "1")
	h.RequireSuccess(result, "run failed")

	var out cli.RunResult
	require.NoError(t, json.Unmarshal([]byte(result.Stdout), &out))
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 1, out.Failures)
	assert.Equal(t, 0, out.Commits)

	assert.Equal(t, before, testutil.CommitCount(t, h.WorkDir))
	testutil.AssertClean(t, h.WorkDir)
	assert.NoFileExists(t, filepath.Join(h.WorkDir, "src", "features.ts"))
}

// TestCLI_RunDirFlag runs the session from outside the project with --dir.
func TestCLI_RunDirFlag(t *testing.T) {
	h := NewCLIHarness(t)
	setupProject(t, h, "true")

	project := h.WorkDir
	h.WorkDir = t.TempDir()

	result := h.Run("--dir", project, "run", "--max-iterations", "1", "--no-backup")
	h.RequireSuccess(result, "run --dir failed")
	assert.Contains(t, result.Stdout, "Development Session Summary")
	assert.Contains(t, result.Stdout, "Commits: 1")
	assert.Contains(t, result.Stdout, "Backup branches created: 0")
	assert.Equal(t, []string{testutil.TestBranch}, testutil.Branches(t, project))
}

// TestCLI_RunInterrupt verifies that an interrupt ends the session during
// the iteration delay and still writes the session log.
func TestCLI_RunInterrupt(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupt signals are not supported on windows")
	}

	h := NewCLIHarness(t)
	setupProject(t, h, "true")
	before := testutil.CommitCount(t, h.WorkDir)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p := h.Start(ctx, "run", "--json", "--max-iterations", "5", "--delay", "10")

	require.Eventually(t, func() bool {
		return testutil.CommitCount(t, h.WorkDir) > before
	}, time.Minute, 100*time.Millisecond, "first iteration never committed")

	require.NoError(t, p.Cmd.Process.Signal(os.Interrupt))
	result := p.Wait()
	h.RequireSuccess(result, "interrupted run should exit cleanly")

	var out cli.RunResult
	require.NoError(t, json.Unmarshal([]byte(result.Stdout), &out), "stdout: %s", result.Stdout)
	assert.Equal(t, "aborted", out.Reason)
	assert.Equal(t, 1, out.Iterations)
	assert.FileExists(t, out.LogPath)
}

// TestCLI_RunInvalidConfig verifies that validation errors stop the run.
func TestCLI_RunInvalidConfig(t *testing.T) {
	h := NewCLIHarness(t)
	h.RequireSuccess(h.Run("init"))

	result := h.Run("run", "--max-iterations", "0")
	h.RequireFailure(result, "run should reject a zero iteration budget")
	assert.Contains(t, result.Stderr, "session.max_iterations")
}

// TestCLI_RunOutsideRepository verifies the git precondition.
func TestCLI_RunOutsideRepository(t *testing.T) {
	h := NewCLIHarness(t)
	h.WorkDir = t.TempDir()

	result := h.Run("run", "--max-iterations", "1")
	h.RequireFailure(result, "run should fail outside a git repository")
	assert.Contains(t, result.Stderr, "failed to open repository")
}
