package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thruflo/devloop/internal/session"
)

func records(statuses ...session.Status) []session.IterationRecord {
	recs := make([]session.IterationRecord, len(statuses))
	for i, s := range statuses {
		recs[i] = session.IterationRecord{Iteration: i + 1, Status: s}
	}
	return recs
}

const (
	passed = session.StatusSuccess
	failed = session.StatusFailed
)

func TestDetectStuck(t *testing.T) {
	tests := []struct {
		name      string
		records   []session.IterationRecord
		threshold int
		want      bool
	}{
		{name: "disabled", records: records(failed, failed, failed), threshold: 0, want: false},
		{name: "not enough history", records: records(failed, failed), threshold: 3, want: false},
		{name: "all recent failed", records: records(passed, failed, failed, failed), threshold: 3, want: true},
		{name: "success inside window", records: records(failed, failed, passed, failed), threshold: 3, want: false},
		{name: "success before window", records: records(passed, failed, failed), threshold: 2, want: true},
		{name: "empty", records: nil, threshold: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectStuck(tt.records, tt.threshold))
		})
	}
}

func TestCalculateProgress(t *testing.T) {
	succeeded, total := CalculateProgress(records(passed, failed, passed, passed))
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 4, total)

	succeeded, total = CalculateProgress(nil)
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 0, total)
}

func TestSuccessRate(t *testing.T) {
	recs := records(failed, failed, passed, passed)

	assert.InDelta(t, 0.5, SuccessRate(recs, 0), 0.001)
	assert.InDelta(t, 1.0, SuccessRate(recs, 2), 0.001)
	assert.InDelta(t, 0.5, SuccessRate(recs, 10), 0.001)
	assert.Equal(t, 0.0, SuccessRate(nil, 3))
}
