package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thruflo/devloop/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL,
	exit_reason TEXT NOT NULL,
	iterations INTEGER NOT NULL,
	successes INTEGER NOT NULL,
	failures INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	commits INTEGER NOT NULL,
	backup_branches TEXT NOT NULL,
	summary TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);
`

// SQLiteArchive stores finished session summaries in a SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenArchive creates or opens the archive at path in WAL mode.
func OpenArchive(path string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// LogSession inserts summary. Logging the same session twice replaces the
// earlier row.
func (a *SQLiteArchive) LogSession(ctx context.Context, summary session.Summary) error {
	full, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	branches, err := json.Marshal(summary.BackupBranches)
	if err != nil {
		return fmt.Errorf("marshal backup branches: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, started_at, ended_at, exit_reason, iterations, successes, failures, errors, commits, backup_branches, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID,
		summary.StartTime.UnixMilli(),
		summary.EndTime.UnixMilli(),
		summary.ExitReason,
		summary.Iterations,
		summary.Successes,
		summary.Failures,
		summary.Errors,
		summary.Commits,
		string(branches),
		string(full),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ArchivedSession is one row of the sessions table.
type ArchivedSession struct {
	ID             string
	StartedAt      time.Time
	EndedAt        time.Time
	ExitReason     string
	Iterations     int
	Successes      int
	Failures       int
	Errors         int
	Commits        int
	BackupBranches []string
}

// Recent returns up to limit sessions, newest first.
func (a *SQLiteArchive) Recent(ctx context.Context, limit int) ([]ArchivedSession, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, exit_reason, iterations, successes, failures, errors, commits, backup_branches
		FROM sessions
		ORDER BY ended_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []ArchivedSession
	for rows.Next() {
		var (
			s              ArchivedSession
			started, ended int64
			branches       string
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.ExitReason, &s.Iterations,
			&s.Successes, &s.Failures, &s.Errors, &s.Commits, &branches); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		s.EndedAt = time.UnixMilli(ended).UTC()
		if err := json.Unmarshal([]byte(branches), &s.BackupBranches); err != nil {
			return nil, fmt.Errorf("decode backup branches: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summary returns the full stored summary for id, or sql.ErrNoRows.
func (a *SQLiteArchive) Summary(ctx context.Context, id string) (*session.Summary, error) {
	var raw string
	err := a.db.QueryRowContext(ctx, `SELECT summary FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var s session.Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
