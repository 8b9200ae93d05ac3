package session

import (
	"time"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/config"
)

// Status is the outcome of one iteration.
type Status string

// Status values for IterationRecord.Status.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IterationRecord is one completed tick.
type IterationRecord struct {
	Iteration  int                  `json:"iteration"`
	Suggestion assistant.Suggestion `json:"suggestion"`
	Status     Status               `json:"status"`
	Error      string               `json:"error,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
	Committed  bool                 `json:"committed"`
	Timestamp  time.Time            `json:"timestamp"`
}

// ErrorRecord is an escalated failure that sent the loop into recovery.
type ErrorRecord struct {
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the document written to the session log file.
type Summary struct {
	ID             string               `json:"session_id"`
	Config         config.SessionConfig `json:"config"`
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
	Duration       string               `json:"duration"`
	ExitReason     string               `json:"exit_reason"`
	Iterations     int                  `json:"total_iterations"`
	Successes      int                  `json:"successful_iterations"`
	Failures       int                  `json:"failed_iterations"`
	Errors         int                  `json:"errors"`
	Commits        int                  `json:"commits"`
	BackupBranches []string             `json:"backup_branches"`
	IterationLog   []IterationRecord    `json:"iteration_log"`
	ErrorLog       []ErrorRecord        `json:"error_log"`
}
