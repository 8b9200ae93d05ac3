package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/devloop/internal/config"
)

func newTestPrompter(input string) (*prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return newPrompter(strings.NewReader(input), &out), &out
}

func TestPromptSessionSettingsDefaults(t *testing.T) {
	p, out := newTestPrompter("\n\n\n\ny\n")

	got, err := promptSessionSettings(p, config.DefaultSessionSettings())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSessionSettings(), got)

	assert.Contains(t, out.String(), "How long should this development session run? (in minutes) (default: 30)")
	assert.Contains(t, out.String(), "Duration: 30 minutes")
	assert.Contains(t, out.String(), "Commit frequency: every 5 iterations")
	assert.Contains(t, out.String(), "Start development session? (y/N)")
}

func TestPromptSessionSettingsAnswers(t *testing.T) {
	p, out := newTestPrompter("60\n20\nabc\n-1\n2\n1\nyes\n")

	got, err := promptSessionSettings(p, config.DefaultSessionSettings())
	require.NoError(t, err)
	assert.Equal(t, 60, got.DurationMinutes)
	assert.Equal(t, 20, got.MaxIterations)
	assert.Equal(t, 2, got.CommitFrequency)
	assert.Equal(t, 1, got.IterationDelayMinutes)
	assert.Equal(t, config.DefaultBackupPrefix, got.BackupPrefix, "unasked settings are kept")

	assert.Equal(t, 2, strings.Count(out.String(), "Please enter a positive whole number."))
}

func TestPromptSessionSettingsDeclined(t *testing.T) {
	for _, answer := range []string{"\n", "n\n", "no\n", "maybe\n"} {
		p, _ := newTestPrompter("\n\n\n\n" + answer)
		_, err := promptSessionSettings(p, config.DefaultSessionSettings())
		assert.ErrorIs(t, err, ErrCancelled, "answer %q", answer)
	}
}

func TestPromptEOF(t *testing.T) {
	p, _ := newTestPrompter("45\n")

	_, err := promptSessionSettings(p, config.DefaultSessionSettings())
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "failed to read input")
}

func TestPromptAnswerWithoutNewline(t *testing.T) {
	p, _ := newTestPrompter("Y")

	ok, err := p.confirm("Continue?")
	require.NoError(t, err)
	assert.True(t, ok)
}
