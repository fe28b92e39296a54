package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceRoundTrip(t *testing.T) {
	assert.Nil(t, GetTrace(context.Background()))

	trace := NewTraceContext()
	ctx := WithTrace(context.Background(), trace)
	assert.Same(t, trace, GetTrace(ctx))
}

func TestNewTraceContext_DistinctIDs(t *testing.T) {
	first := NewTraceContext()
	second := NewTraceContext()

	require.NotEmpty(t, first.TraceID)
	require.NotEmpty(t, first.RequestID)
	assert.NotEqual(t, first.TraceID, second.TraceID)
}
