package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDir is the log directory relative to the project root.
const DefaultDir = ".devloop/sessions"

const (
	filePrefix = "dev-session-"
	fileSuffix = ".json"
)

// Store handles the session log files of one project.
type Store struct {
	dir string
}

// NewStore creates a Store. logDir is resolved against basePath unless it is
// absolute; an empty logDir means DefaultDir.
func NewStore(basePath, logDir string) *Store {
	if logDir == "" {
		logDir = DefaultDir
	}
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(basePath, logDir)
	}
	return &Store{dir: logDir}
}

// Dir returns the directory session logs are written to.
func (s *Store) Dir() string { return s.dir }

// Flush writes summary to dev-session-<end unix ms>.json and returns the
// path. The file is written to a temp file first and renamed into place so
// readers never see a partial log.
func (s *Store) Flush(summary Summary) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session log directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal session log: %w", err)
	}

	path := s.freePath(summary.EndTime.UnixMilli())

	tmp, err := os.CreateTemp(s.dir, ".dev-session-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write session log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write session log: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write session log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write session log: %w", err)
	}
	return path, nil
}

// freePath returns the log path for ts, adding a counter when a log with the
// same timestamp already exists.
func (s *Store) freePath(ts int64) string {
	base := fmt.Sprintf("%s%d", filePrefix, ts)
	path := filepath.Join(s.dir, base+fileSuffix)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%d%s", base, i, fileSuffix))
	}
}

// Load reads one session log.
func (s *Store) Load(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}

	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse session log %s: %w", filepath.Base(path), err)
	}
	return &summary, nil
}

// List returns every readable session log, newest first. Unparseable files
// are skipped.
func (s *Store) List() ([]*Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read session log directory: %w", err)
	}

	summaries := []*Summary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		summary, err := s.Load(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].EndTime.After(summaries[j].EndTime)
	})
	return summaries, nil
}

// Latest returns the most recent session log, or nil when there is none.
func (s *Store) Latest() (*Summary, error) {
	summaries, err := s.List()
	if err != nil || len(summaries) == 0 {
		return nil, err
	}
	return summaries[0], nil
}
