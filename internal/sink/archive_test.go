package sink

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/devloop/internal/config"
	"github.com/thruflo/devloop/internal/session"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testSummary(id string, end time.Time) session.Summary {
	start := end.Add(-30 * time.Minute)
	log := session.NewLog(id, config.SessionConfig{MaxIterations: 10, CommitFrequency: 5}, start)
	_ = log.AppendIteration(session.IterationRecord{Iteration: 0, Status: session.StatusSuccess, Committed: true})
	_ = log.AppendIteration(session.IterationRecord{Iteration: 1, Status: session.StatusFailed})
	log.AddBackupBranch("backup-1")
	return log.Summary(end, "max duration", 2)
}

func TestArchiveLogSession(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t)
	ctx := context.Background()
	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.LogSession(ctx, testSummary("s1", end)))

	sessions, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, end, got.EndedAt)
	assert.Equal(t, end.Add(-30*time.Minute), got.StartedAt)
	assert.Equal(t, "max duration", got.ExitReason)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, 1, got.Successes)
	assert.Equal(t, 1, got.Failures)
	assert.Equal(t, 1, got.Commits)
	assert.Equal(t, []string{"backup-1"}, got.BackupBranches)

	full, err := a.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, full.IterationLog, 2)
	assert.Equal(t, 10, full.Config.MaxIterations)

	_, err = a.Summary(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestArchiveRecentOrderAndLimit(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, a.LogSession(ctx, testSummary(id, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, a.LogSession(ctx, testSummary("a", base.Add(5*time.Hour))))

	sessions, err := a.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "c", sessions[1].ID)

	all, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenArchiveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	require.NoError(t, a.LogSession(context.Background(), testSummary("s1", time.Now())))
	require.NoError(t, a.Close())

	b, err := OpenArchive(path)
	require.NoError(t, err)
	defer b.Close()

	sessions, err := b.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
