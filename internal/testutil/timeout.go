package testutil

import (
	"context"
	"testing"
	"time"
)

// Fallback timeouts used when the test binary runs without -timeout.
const (
	DefaultGitTimeout       = 30 * time.Second
	DefaultAssistantTimeout = time.Minute
	DefaultShortTimeout     = 30 * time.Second

	// DefaultTestBuffer is kept free before the test deadline for cleanup.
	DefaultTestBuffer = 10 * time.Second
)

// ContextWithTestDeadline returns a context that expires DefaultTestBuffer
// before the test deadline, or after fallback when the test has no deadline
// (or the buffered deadline has already passed).
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		if adjusted := deadline.Add(-DefaultTestBuffer); time.Until(adjusted) > 0 {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// GitOperationContext bounds git commands against a throwaway repository.
func GitOperationContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultGitTimeout)
}

// AssistantContext bounds runs of fake assistant scripts.
func AssistantContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultAssistantTimeout)
}

// ShortOperationContext bounds quick operations such as a loop run whose
// collaborators all fail fast.
func ShortOperationContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultShortTimeout)
}
