package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithTestDeadline(t *testing.T) {
	fallback := 100 * time.Millisecond
	ctx, cancel := ContextWithTestDeadline(t, fallback)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Positive(t, time.Until(deadline))

	if _, hasTestDeadline := t.Deadline(); !hasTestDeadline {
		assert.LessOrEqual(t, time.Until(deadline), fallback)
	}
}

func TestOperationContexts(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T) (context.Context, context.CancelFunc)
	}{
		{"git", GitOperationContext},
		{"assistant", AssistantContext},
		{"short", ShortOperationContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.fn(t)
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.Positive(t, time.Until(deadline))

			cancel()
			select {
			case <-ctx.Done():
			default:
				t.Fatal("context should be done after cancel")
			}
		})
	}
}
