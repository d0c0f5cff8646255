package telemetry

import (
	"context"

	"github.com/loomworks/loom/internal/core/ports"
)

// NoOpTracer is a ports.Tracer that records nothing. It is used when tracing
// is disabled and as a safe default in tests.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

// Start returns the context unchanged and a span that discards everything.
func (t *NoOpTracer) Start(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
	return ctx, &NoOpSpan{}
}

// EmitPlan does nothing.
func (t *NoOpTracer) EmitPlan(_ context.Context, _ []string) {}

// NoOpSpan discards all writes and events.
type NoOpSpan struct{}

// Write discards p.
func (s *NoOpSpan) Write(p []byte) (n int, err error) { return len(p), nil }

// End does nothing.
func (s *NoOpSpan) End() {}

// RecordError does nothing.
func (s *NoOpSpan) RecordError(_ error) {}

// SetAttribute does nothing.
func (s *NoOpSpan) SetAttribute(_ string, _ any) {}
