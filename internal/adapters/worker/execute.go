package worker

import (
	"context"
	"errors"
	"time"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
)

// execute runs a single work order inside its own span, applying the order's
// timeout. Command failures and timeouts are deterministic for a given
// fingerprint, so both are reported as fatal build errors. Context
// cancellation propagates unchanged so callers can tell interruption apart
// from failure.
func execute(
	ctx context.Context,
	executor ports.Executor,
	tracer ports.Tracer,
	order *domain.WorkOrder,
) (*domain.BuildResult, error) {
	start := time.Now()

	runCtx := ctx
	if order.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, order.Timeout)
		defer cancel()
	}

	spanCtx, span := tracer.Start(runCtx, order.Target.String())
	defer span.End()
	span.SetAttribute("argv_len", len(order.Argv))

	err := executor.Execute(spanCtx, order, span, span)
	if err == nil {
		return &domain.BuildResult{
			Target:   order.Target,
			Duration: time.Since(start),
		}, nil
	}

	span.RecordError(err)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &domain.BuildError{
			Target:    order.Target.String(),
			Cause:     zerr.With(zerr.Wrap(err, "build timed out"), "timeout", order.Timeout.String()),
			Retryable: false,
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return nil, &domain.BuildError{
		Target:    order.Target.String(),
		Cause:     err,
		Retryable: false,
	}
}
