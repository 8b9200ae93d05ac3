package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that should be redacted in logs and serialization.
type Secret string

// String implements fmt.Stringer. Always returns redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON redacts the value in session logs.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value returns the actual secret value.
func (s Secret) Value() string {
	return string(s)
}

// SessionSettings holds the loop budgets as written in config.yaml.
type SessionSettings struct {
	DurationMinutes          int      `yaml:"duration_minutes" koanf:"duration_minutes"`
	MaxIterations            int      `yaml:"max_iterations" koanf:"max_iterations"`
	CommitFrequency          int      `yaml:"commit_frequency" koanf:"commit_frequency"`
	IterationDelayMinutes    int      `yaml:"iteration_delay_minutes" koanf:"iteration_delay_minutes"`
	BackupBranches           bool     `yaml:"backup_branches" koanf:"backup_branches"`
	BackupPrefix             string   `yaml:"backup_prefix" koanf:"backup_prefix"`
	WorkingBranch            string   `yaml:"working_branch,omitempty" koanf:"working_branch"`
	RecoveryDelay            Duration `yaml:"recovery_delay" koanf:"recovery_delay"`
	MaxConsecutiveRecoveries int      `yaml:"max_consecutive_recoveries" koanf:"max_consecutive_recoveries"`
	NoProgressThreshold      int      `yaml:"no_progress_threshold" koanf:"no_progress_threshold"`
	LogDir                   string   `yaml:"log_dir" koanf:"log_dir"`
}

// AssistantSettings configures the external code-generation CLI.
type AssistantSettings struct {
	Command           string   `yaml:"command" koanf:"command"`
	Args              []string `yaml:"args,omitempty" koanf:"args"`
	Timeout           Duration `yaml:"timeout" koanf:"timeout"`
	KillGrace         Duration `yaml:"kill_grace" koanf:"kill_grace"`
	Implement         bool     `yaml:"implement" koanf:"implement"`
	ImplementTimeout  Duration `yaml:"implement_timeout" koanf:"implement_timeout"`
	PromptTemplate    string   `yaml:"prompt_template,omitempty" koanf:"prompt_template"`
	ImplementTemplate string   `yaml:"implement_template,omitempty" koanf:"implement_template"`
	Guidelines        []string `yaml:"guidelines,omitempty" koanf:"guidelines"`
}

// VerifySettings holds the verification pipeline commands.
// An empty command skips that step.
type VerifySettings struct {
	Build          string   `yaml:"build" koanf:"build"`
	Typecheck      string   `yaml:"typecheck" koanf:"typecheck"`
	Lint           string   `yaml:"lint" koanf:"lint"`
	Test           string   `yaml:"test" koanf:"test"`
	StepTimeout    Duration `yaml:"step_timeout" koanf:"step_timeout"`
	TestTimeout    Duration `yaml:"test_timeout" koanf:"test_timeout"`
	MaxOutputBytes int      `yaml:"max_output_bytes" koanf:"max_output_bytes"`
}

// BoardSettings configures the project-management status sink.
type BoardSettings struct {
	Endpoint string `yaml:"endpoint,omitempty" koanf:"endpoint"`
	BoardID  string `yaml:"board_id,omitempty" koanf:"board_id"`
	Token    Secret `yaml:"token,omitempty" koanf:"token"`
}

// ArchiveSettings configures the session archive sink.
type ArchiveSettings struct {
	Path string `yaml:"path,omitempty" koanf:"path"`
}

// SinkSettings groups the optional external sinks.
type SinkSettings struct {
	Board   BoardSettings   `yaml:"board" koanf:"board"`
	Archive ArchiveSettings `yaml:"archive" koanf:"archive"`
}

// LogSettings configures console logging.
type LogSettings struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}

// Config represents the .devloop/config.yaml file.
type Config struct {
	Session   SessionSettings   `yaml:"session" koanf:"session"`
	Assistant AssistantSettings `yaml:"assistant" koanf:"assistant"`
	Verify    VerifySettings    `yaml:"verify" koanf:"verify"`
	Sinks     SinkSettings      `yaml:"sinks" koanf:"sinks"`
	Log       LogSettings       `yaml:"log" koanf:"log"`
}

// SessionConfig is the resolved, immutable configuration of one session.
// It is built once by Config.SessionConfig and passed by value.
type SessionConfig struct {
	MaxIterations            int
	SessionDuration          time.Duration
	CommitFrequency          int
	IterationDelay           time.Duration
	BackupBranches           bool
	BackupPrefix             string
	WorkingBranch            string
	RecoveryDelay            time.Duration
	MaxConsecutiveRecoveries int
	NoProgressThreshold      int
}

// sessionConfigJSON is the session log form of SessionConfig. Durations are
// written as strings such as "30m0s", like the rest of the configuration.
type sessionConfigJSON struct {
	MaxIterations            int      `json:"max_iterations"`
	SessionDuration          Duration `json:"session_duration"`
	CommitFrequency          int      `json:"commit_frequency"`
	IterationDelay           Duration `json:"iteration_delay"`
	BackupBranches           bool     `json:"backup_branches"`
	BackupPrefix             string   `json:"backup_prefix"`
	WorkingBranch            string   `json:"working_branch,omitempty"`
	RecoveryDelay            Duration `json:"recovery_delay"`
	MaxConsecutiveRecoveries int      `json:"max_consecutive_recoveries"`
	NoProgressThreshold      int      `json:"no_progress_threshold"`
}

// MarshalJSON implements json.Marshaler.
func (c SessionConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionConfigJSON{
		MaxIterations:            c.MaxIterations,
		SessionDuration:          Duration(c.SessionDuration),
		CommitFrequency:          c.CommitFrequency,
		IterationDelay:           Duration(c.IterationDelay),
		BackupBranches:           c.BackupBranches,
		BackupPrefix:             c.BackupPrefix,
		WorkingBranch:            c.WorkingBranch,
		RecoveryDelay:            Duration(c.RecoveryDelay),
		MaxConsecutiveRecoveries: c.MaxConsecutiveRecoveries,
		NoProgressThreshold:      c.NoProgressThreshold,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *SessionConfig) UnmarshalJSON(data []byte) error {
	var w sessionConfigJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = SessionConfig{
		MaxIterations:            w.MaxIterations,
		SessionDuration:          w.SessionDuration.Duration(),
		CommitFrequency:          w.CommitFrequency,
		IterationDelay:           w.IterationDelay.Duration(),
		BackupBranches:           w.BackupBranches,
		BackupPrefix:             w.BackupPrefix,
		WorkingBranch:            w.WorkingBranch,
		RecoveryDelay:            w.RecoveryDelay.Duration(),
		MaxConsecutiveRecoveries: w.MaxConsecutiveRecoveries,
		NoProgressThreshold:      w.NoProgressThreshold,
	}
	return nil
}

// SessionConfig resolves the session budgets into a SessionConfig.
func (c *Config) SessionConfig() SessionConfig {
	s := c.Session
	return SessionConfig{
		MaxIterations:            s.MaxIterations,
		SessionDuration:          time.Duration(s.DurationMinutes) * time.Minute,
		CommitFrequency:          s.CommitFrequency,
		IterationDelay:           time.Duration(s.IterationDelayMinutes) * time.Minute,
		BackupBranches:           s.BackupBranches,
		BackupPrefix:             s.BackupPrefix,
		WorkingBranch:            s.WorkingBranch,
		RecoveryDelay:            s.RecoveryDelay.Duration(),
		MaxConsecutiveRecoveries: s.MaxConsecutiveRecoveries,
		NoProgressThreshold:      s.NoProgressThreshold,
	}
}
