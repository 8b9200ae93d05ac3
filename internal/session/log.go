// Package session keeps the in-memory record of a development session and
// writes it to disk once the session ends.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/devloop/internal/config"
)

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Log accumulates iteration and error records for one session. It is owned
// by the loop goroutine and is not safe for concurrent use.
type Log struct {
	id         string
	cfg        config.SessionConfig
	start      time.Time
	iterations []IterationRecord
	errors     []ErrorRecord
	backups    []string
}

// NewLog creates an empty log.
func NewLog(id string, cfg config.SessionConfig, start time.Time) *Log {
	return &Log{id: id, cfg: cfg, start: start}
}

// ID returns the session id.
func (l *Log) ID() string { return l.id }

// AppendIteration records a completed tick. Iteration indices must be
// strictly increasing.
func (l *Log) AppendIteration(rec IterationRecord) error {
	if n := len(l.iterations); n > 0 && rec.Iteration <= l.iterations[n-1].Iteration {
		return fmt.Errorf("iteration %d recorded after iteration %d", rec.Iteration, l.iterations[n-1].Iteration)
	}
	l.iterations = append(l.iterations, rec)
	return nil
}

// AppendError records an escalated failure.
func (l *Log) AppendError(rec ErrorRecord) {
	l.errors = append(l.errors, rec)
}

// AddBackupBranch records a backup branch name.
func (l *Log) AddBackupBranch(name string) {
	l.backups = append(l.backups, name)
}

// Iterations returns a copy of the iteration records.
func (l *Log) Iterations() []IterationRecord {
	return append([]IterationRecord(nil), l.iterations...)
}

// Errors returns a copy of the error records.
func (l *Log) Errors() []ErrorRecord {
	return append([]ErrorRecord(nil), l.errors...)
}

// BackupBranches returns a copy of the backup branch names.
func (l *Log) BackupBranches() []string {
	return append([]string(nil), l.backups...)
}

// Counts returns successes, failures and commits over the iteration log.
func (l *Log) Counts() (successes, failures, commits int) {
	for _, rec := range l.iterations {
		switch rec.Status {
		case StatusSuccess:
			successes++
		case StatusFailed:
			failures++
		}
		if rec.Committed {
			commits++
		}
	}
	return successes, failures, commits
}

// Summary snapshots the log. iterations is the loop's iteration counter,
// which can differ from len(Iterations()) when ticks ended in recovery.
func (l *Log) Summary(end time.Time, reason string, iterations int) Summary {
	successes, failures, commits := l.Counts()
	backups := l.BackupBranches()
	if backups == nil {
		backups = []string{}
	}
	iterLog := l.Iterations()
	if iterLog == nil {
		iterLog = []IterationRecord{}
	}
	errLog := l.Errors()
	if errLog == nil {
		errLog = []ErrorRecord{}
	}

	return Summary{
		ID:             l.id,
		Config:         l.cfg,
		StartTime:      l.start,
		EndTime:        end,
		Duration:       end.Sub(l.start).Round(time.Second).String(),
		ExitReason:     reason,
		Iterations:     iterations,
		Successes:      successes,
		Failures:       failures,
		Errors:         len(l.errors),
		Commits:        commits,
		BackupBranches: backups,
		IterationLog:   iterLog,
		ErrorLog:       errLog,
	}
}
