package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_Text(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_YAMLMarshal(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(AssistantSettings{
		Command: "claude",
		Timeout: Duration(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 2m0s")
	assert.NotContains(t, string(out), "args")
}

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()

	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.Equal(t, "", Secret("").String())

	data, err := json.Marshal(BoardSettings{Endpoint: "https://x.test", Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestSessionConfig_JSON(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	data, err := json.Marshal(cfg.SessionConfig())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(10), decoded["max_iterations"])
	assert.Equal(t, float64(5), decoded["commit_frequency"])
	assert.Equal(t, true, decoded["backup_branches"])
}
