package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/telemetry"
)

func TestNoOpTracer(t *testing.T) {
	tracer := telemetry.NewNoOpTracer()
	ctx := context.Background()

	spanCtx, span := tracer.Start(ctx, "anything")
	assert.Equal(t, ctx, spanCtx, "context passes through unchanged")

	n, err := span.Write([]byte("discarded"))
	require.NoError(t, err)
	assert.Equal(t, len("discarded"), n)

	span.SetAttribute("key", "value")
	span.RecordError(errors.New("ignored"))
	span.End()

	tracer.EmitPlan(ctx, []string{"a", "b"})
}
