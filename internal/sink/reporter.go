// Package sink holds the optional side channels a session reports to: a
// project-management board that tracks each suggestion and an archive that
// stores finished session summaries. Sink failures never affect the loop.
package sink

import (
	"context"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/logging"
)

// Board item statuses.
const (
	StatusCompleted = "completed"
	StatusStuck     = "stuck"
)

// LogReporter logs status updates instead of sending them anywhere. It is
// used when no board endpoint is configured.
type LogReporter struct {
	Logger *logging.Logger
}

// ReportStatus logs the update.
func (r LogReporter) ReportStatus(_ context.Context, s *assistant.Suggestion, status string) error {
	log := r.Logger
	if log == nil {
		log = logging.Default()
	}
	log.Debug("board update", "feature", s.Feature, "status", status, "priority", s.Priority)
	return nil
}
