// Package testutil provides shared test utilities for devloop.
//
// This package consolidates common test helpers, fixtures, and assertions
// used across the devloop codebase to keep test patterns consistent. It only
// depends on leaf libraries so that internal (same-package) tests anywhere
// in the module can import it.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SampleSuggestionJSON, SampleSuggestionChatter - assistant responses
//   - SamplePackageJSON - a minimal package.json
//   - MustMarshalJSON(t, v), MustUnmarshalJSON(t, data, v) - JSON helpers
//   - WriteTestFile(t, base, path, content) - writes a file in a test dir
//
// # Git Repositories
//
// The git.go file creates throwaway repositories:
//
//   - RequireGit(t), RequireShell(t) - skip when a binary is missing
//   - InitRepo(t) - a repo on branch "main" with one commit (go-git)
//   - CreateBranch(t, dir, name) - a branch at HEAD, not checked out
//   - RunGit(t, dir, args...) - runs the git CLI, failing the test on error
//   - CommitCount(t, dir), HeadMessage(t, dir), Branches(t, dir) - inspection
//   - IsClean(t, dir) - reports whether the worktree has no changes
//
// # Scripts
//
// The script.go file writes executable shell scripts that stand in for the
// assistant CLI or verification commands.
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    dir := testutil.InitRepo(t)
//	    ctx, cancel := testutil.ShortOperationContext(t)
//	    defer cancel()
//	    // ... run test ...
//	    testutil.AssertClean(t, dir)
//	}
package testutil
