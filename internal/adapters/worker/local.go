package worker

import (
	"context"
	"sync"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

var _ ports.Backend = (*Local)(nil)

// Local is a backend that runs each submitted order on its own goroutine.
// Concurrency is bounded by the scheduler's dispatch window, not by the
// backend, so Local never queues.
type Local struct {
	executor ports.Executor
	tracer   ports.Tracer

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewLocal creates a new local goroutine backend.
func NewLocal(executor ports.Executor, tracer ports.Tracer) *Local {
	return &Local{
		executor: executor,
		tracer:   tracer,
	}
}

// Submit dispatches the work order on a fresh goroutine.
func (b *Local) Submit(ctx context.Context, order *domain.WorkOrder) (ports.Future, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &domain.BuildError{
			Target:    order.Target.String(),
			Cause:     domain.ErrBackendClosed,
			Retryable: true,
		}
	}
	b.wg.Add(1)
	b.mu.Unlock()

	f := newFuture()
	go func() {
		defer b.wg.Done()
		f.complete(execute(ctx, b.executor, b.tracer, order))
	}()

	return f, nil
}

// Close waits for all in-flight builds to finish.
func (b *Local) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
