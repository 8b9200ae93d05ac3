package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteScript writes an executable sh script named name into dir and returns
// its path. body is everything after the shebang line.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// EchoScript writes a script that prints output to stdout and exits 0.
func EchoScript(t *testing.T, dir, name, output string) string {
	t.Helper()

	outPath := filepath.Join(dir, name+".out")
	require.NoError(t, os.WriteFile(outPath, []byte(output), 0o644))
	return WriteScript(t, dir, name, "cat '"+outPath+"'\n")
}
