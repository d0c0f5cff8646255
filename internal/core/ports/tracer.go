package ports

import (
	"context"
	"io"
)

//go:generate go run go.uber.org/mock/mockgen -source=tracer.go -destination=mocks/mock_tracer.go -package=mocks

// Tracer is the entry point for creating spans around scheduler work.
type Tracer interface {
	// Start creates a new span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// EmitPlan signals the set of targets planned for execution, in
	// dependency order, before dispatch begins.
	EmitPlan(ctx context.Context, targetNames []string)
}

// Span represents one unit of work. It accepts the build's streamed output
// via io.Writer.
type Span interface {
	io.Writer

	// End completes the span.
	End()

	// RecordError records an error for the span.
	RecordError(err error)

	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// SpanConfig holds configuration for a starting span.
type SpanConfig struct{}

// SpanOption is a functional option for configuring a span.
type SpanOption func(*SpanConfig)
