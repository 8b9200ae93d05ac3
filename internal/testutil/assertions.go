package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertClean asserts that the repository at dir has no uncommitted changes.
func AssertClean(t *testing.T, dir string) {
	t.Helper()
	assert.True(t, IsClean(t, dir), "worktree at %s should be clean", dir)
}

// AssertDirty asserts that the repository at dir has uncommitted changes.
func AssertDirty(t *testing.T, dir string) {
	t.Helper()
	assert.False(t, IsClean(t, dir), "worktree at %s should have changes", dir)
}

// AssertFileExists asserts that path exists and is a regular file.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, "expected file %s", path)
	assert.False(t, info.IsDir(), "%s is a directory", path)
}

// AssertNoMatches asserts that no file in dir matches the glob pattern.
func AssertNoMatches(t *testing.T, dir, pattern string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	assert.Empty(t, matches, "unexpected files matching %s in %s", pattern, dir)
}

// AssertMatchCount asserts that exactly n files in dir match pattern and
// returns them.
func AssertMatchCount(t *testing.T, dir, pattern string, n int) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	assert.Len(t, matches, n, "files matching %s in %s", pattern, dir)
	return matches
}
