package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SampleSuggestionJSON is a well-formed assistant response.
const SampleSuggestionJSON = `{
  "feature": "Status Column",
  "description": "Add a status column to the board view",
  "priority": "high",
  "files": ["src/components/Board.tsx", "src/components/StatusCell.tsx"],
  "implementation": "Create StatusCell and render it in each Board row",
  "styling": "Use the existing status colours"
}`

// SampleSuggestionChatter wraps SampleSuggestionJSON in prose, the way
// assistants often answer.
const SampleSuggestionChatter = "Sure! Here is what I suggest:\n\n" +
	SampleSuggestionJSON +
	"\n\nLet me know if you want something else {or not}."

// SamplePackageJSON is a minimal package.json for project snapshots.
const SamplePackageJSON = `{
  "name": "missions-app",
  "version": "0.1.0",
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0"
  }
}`

// MustMarshalJSON marshals a value to JSON, failing the test on error.
// Uses indented format for readability.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
	require.NoError(t, os.WriteFile(fullPath, content, 0644))
}
