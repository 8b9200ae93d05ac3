package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/config"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxIterations:   10,
		SessionDuration: 30 * time.Minute,
		CommitFrequency: 2,
		IterationDelay:  2 * time.Minute,
		BackupBranches:  true,
		BackupPrefix:    "backup-",
	}
}

func record(i int, status Status, committed bool) IterationRecord {
	return IterationRecord{
		Iteration:  i,
		Suggestion: *assistant.DefaultSuggestion(),
		Status:     status,
		Committed:  committed,
		Timestamp:  testStart.Add(time.Duration(i) * time.Minute),
	}
}

func TestNewID(t *testing.T) {
	t.Parallel()

	a, b := NewID(), NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestLogAppendIteration(t *testing.T) {
	t.Parallel()

	l := NewLog("s1", testConfig(), testStart)
	require.NoError(t, l.AppendIteration(record(0, StatusSuccess, false)))
	require.NoError(t, l.AppendIteration(record(1, StatusSuccess, true)))
	require.NoError(t, l.AppendIteration(record(3, StatusFailed, false)))

	err := l.AppendIteration(record(3, StatusSuccess, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration 3 recorded after iteration 3")

	assert.Error(t, l.AppendIteration(record(2, StatusSuccess, false)))
	assert.Len(t, l.Iterations(), 3)

	successes, failures, commits := l.Counts()
	assert.Equal(t, 2, successes)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, commits)
}

func TestLogCopies(t *testing.T) {
	t.Parallel()

	l := NewLog("s1", testConfig(), testStart)
	l.AddBackupBranch("backup-1")
	l.AppendError(ErrorRecord{Iteration: 0, Phase: "committing", Message: "boom"})
	require.NoError(t, l.AppendIteration(record(0, StatusFailed, false)))

	branches := l.BackupBranches()
	branches[0] = "mutated"
	assert.Equal(t, []string{"backup-1"}, l.BackupBranches())

	errs := l.Errors()
	errs[0].Message = "mutated"
	assert.Equal(t, "boom", l.Errors()[0].Message)

	iters := l.Iterations()
	iters[0].Status = StatusSuccess
	assert.Equal(t, StatusFailed, l.Iterations()[0].Status)
}

func TestLogSummary(t *testing.T) {
	t.Parallel()

	l := NewLog("s1", testConfig(), testStart)
	require.NoError(t, l.AppendIteration(record(0, StatusSuccess, false)))
	require.NoError(t, l.AppendIteration(record(1, StatusSuccess, true)))
	require.NoError(t, l.AppendIteration(record(2, StatusFailed, false)))
	l.AppendError(ErrorRecord{Iteration: 3, Phase: "rolling_back", Message: "reset failed"})
	l.AddBackupBranch("backup-1")
	l.AddBackupBranch("backup-2")

	end := testStart.Add(12*time.Minute + 400*time.Millisecond)
	s := l.Summary(end, "max iterations", 4)

	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, testConfig(), s.Config)
	assert.Equal(t, testStart, s.StartTime)
	assert.Equal(t, end, s.EndTime)
	assert.Equal(t, "12m0s", s.Duration)
	assert.Equal(t, "max iterations", s.ExitReason)
	assert.Equal(t, 4, s.Iterations)
	assert.Equal(t, 2, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Commits)
	assert.Equal(t, []string{"backup-1", "backup-2"}, s.BackupBranches)
	assert.Len(t, s.IterationLog, 3)
	assert.Len(t, s.ErrorLog, 1)
}

func TestLogSummaryEmpty(t *testing.T) {
	t.Parallel()

	s := NewLog("s1", testConfig(), testStart).Summary(testStart, "aborted", 0)
	assert.NotNil(t, s.BackupBranches)
	assert.NotNil(t, s.IterationLog)
	assert.NotNil(t, s.ErrorLog)
	assert.Zero(t, s.Commits)
}
