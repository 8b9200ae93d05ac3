package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultDurationMinutes       = 30
	DefaultMaxIterations         = 10
	DefaultCommitFrequency       = 5
	DefaultIterationDelayMinutes = 2
	DefaultRecoveryDelay         = 5 * time.Second
	DefaultBackupPrefix          = "backup-"
	DefaultLogDir                = ".devloop/sessions"

	DefaultAssistantCommand  = "claude"
	DefaultAssistantTimeout  = 2 * time.Minute
	DefaultKillGrace         = 5 * time.Second
	DefaultImplementTimeout  = 10 * time.Minute
	DefaultStepTimeout       = 10 * time.Minute
	DefaultTestTimeout       = 30 * time.Second
	DefaultMaxOutputBytes    = 64 * 1024
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	maxConfigFileSize        = 1024 * 1024
	envPrefix                = "DEVLOOP_"
	configFileName           = "config.yaml"
	envFileName              = ".env"
)

// DirName is the project-relative directory holding devloop's own files.
const DirName = ".devloop"


// DefaultSessionSettings returns session settings with the documented defaults.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		DurationMinutes:       DefaultDurationMinutes,
		MaxIterations:         DefaultMaxIterations,
		CommitFrequency:       DefaultCommitFrequency,
		IterationDelayMinutes: DefaultIterationDelayMinutes,
		BackupBranches:        true,
		BackupPrefix:          DefaultBackupPrefix,
		RecoveryDelay:         Duration(DefaultRecoveryDelay),
		LogDir:                DefaultLogDir,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Session: DefaultSessionSettings(),
		Assistant: AssistantSettings{
			Command:          DefaultAssistantCommand,
			Timeout:          Duration(DefaultAssistantTimeout),
			KillGrace:        Duration(DefaultKillGrace),
			Implement:        true,
			ImplementTimeout: Duration(DefaultImplementTimeout),
		},
		Verify: VerifySettings{
			Build:          "npm run build",
			Typecheck:      "npm run typecheck",
			Lint:           "npm run lint",
			Test:           "npm test",
			StepTimeout:    Duration(DefaultStepTimeout),
			TestTimeout:    Duration(DefaultTestTimeout),
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		Log: LogSettings{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// ConfigPath returns the path of config.yaml under the project root.
func ConfigPath(basePath string) string {
	return filepath.Join(basePath, DirName, configFileName)
}

// LoadConfig reads .devloop/config.yaml from the given project path, then
// applies DEVLOOP_* environment overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (DEVLOOP_SESSION_MAX_ITERATIONS, ...)
//  2. .devloop/config.yaml
//  3. DefaultConfig
//
// If the file doesn't exist, defaults (plus env) are returned.
func LoadConfig(basePath string) (*Config, error) {
	return load(ConfigPath(basePath))
}

// LoadConfigFile is LoadConfig for an explicit file path.
func LoadConfigFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	data, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// envKey maps an environment variable to a config key:
//
//	DEVLOOP_SESSION_MAX_ITERATIONS -> session.max_iterations
//	DEVLOOP_SINKS_BOARD_ENDPOINT   -> sinks.board.endpoint
func envKey(name string) string {
	lower := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]
	if section == "sinks" {
		sub := strings.SplitN(field, "_", 2)
		if len(sub) == 2 {
			return section + "." + sub[0] + "." + sub[1]
		}
	}
	return section + "." + field
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	s := cfg.Session
	if s.DurationMinutes <= 0 {
		return ValidationError{Field: "session.duration_minutes", Message: "must be positive"}
	}
	if s.MaxIterations <= 0 {
		return ValidationError{Field: "session.max_iterations", Message: "must be positive"}
	}
	if s.CommitFrequency <= 0 {
		return ValidationError{Field: "session.commit_frequency", Message: "must be positive"}
	}
	if s.IterationDelayMinutes < 0 {
		return ValidationError{Field: "session.iteration_delay_minutes", Message: "must not be negative"}
	}
	if s.MaxConsecutiveRecoveries < 0 {
		return ValidationError{Field: "session.max_consecutive_recoveries", Message: "must not be negative"}
	}
	if s.NoProgressThreshold < 0 {
		return ValidationError{Field: "session.no_progress_threshold", Message: "must not be negative"}
	}
	if s.BackupBranches && strings.TrimSpace(s.BackupPrefix) == "" {
		return ValidationError{Field: "session.backup_prefix", Message: "required when backup_branches is enabled"}
	}

	a := cfg.Assistant
	if strings.TrimSpace(a.Command) == "" {
		return ValidationError{Field: "assistant.command", Message: "required field is empty"}
	}
	if a.Timeout <= 0 {
		return ValidationError{Field: "assistant.timeout", Message: "must be positive"}
	}
	if a.Implement && a.ImplementTimeout <= 0 {
		return ValidationError{Field: "assistant.implement_timeout", Message: "must be positive"}
	}

	if cfg.Verify.MaxOutputBytes < 0 {
		return ValidationError{Field: "verify.max_output_bytes", Message: "must not be negative"}
	}

	if cfg.Log.Format != "" && cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return ValidationError{Field: "log.format", Message: "must be console or json"}
	}

	return nil
}

// WriteDefault writes the default config.yaml under basePath unless one
// already exists. It returns the path written.
func WriteDefault(basePath string, force bool) (string, error) {
	path := ConfigPath(basePath)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yamlv3.Marshal(DefaultConfig())
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// LoadEnvFile parses .devloop/.env into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, DirName, envFileName)

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		vars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return vars, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
