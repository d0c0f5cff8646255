package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
)

// Bridge implements sdktrace.SpanProcessor to surface span lifecycle events
// through the structured logger.
type Bridge struct {
	logger  ports.Logger
	verbose bool
}

// NewBridge returns a new Bridge. When verbose is false, only failed spans
// are reported.
func NewBridge(logger ports.Logger, verbose bool) *Bridge {
	return &Bridge{
		logger:  logger,
		verbose: verbose,
	}
}

// OnStart is called when a span starts.
func (b *Bridge) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if b.logger == nil || !b.verbose {
		return
	}

	if !s.SpanContext().IsValid() {
		return
	}

	b.logger.Info(fmt.Sprintf("▶ %s", s.Name()))
}

// OnEnd is called when a span ends.
func (b *Bridge) OnEnd(s sdktrace.ReadOnlySpan) {
	if b.logger == nil {
		return
	}

	if !s.SpanContext().IsValid() {
		return
	}

	if s.Status().Code == codes.Error {
		desc := s.Status().Description
		if desc == "" {
			desc = "target failed"
		}
		b.logger.Error(zerr.With(zerr.New(desc), "target", s.Name()))
		return
	}

	if b.verbose {
		elapsed := s.EndTime().Sub(s.StartTime())
		b.logger.Info(fmt.Sprintf("■ %s (%s)", s.Name(), elapsed.Round(time.Millisecond)))
	}
}

// ForceFlush does nothing.
func (b *Bridge) ForceFlush(_ context.Context) error {
	return nil
}

// Shutdown does nothing.
func (b *Bridge) Shutdown(_ context.Context) error {
	return nil
}
