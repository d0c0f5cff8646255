// Package worker provides execution backends that dispatch work orders to
// local goroutines or a persistent worker pool.
package worker

import (
	"context"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

var _ ports.Future = (*future)(nil)

// future is the handle returned by Submit. It is completed exactly once by
// the executing worker.
type future struct {
	done   chan struct{}
	result *domain.BuildResult
	err    error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// complete resolves the future. Must be called exactly once.
func (f *future) complete(result *domain.BuildResult, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the build finishes or ctx is cancelled.
func (f *future) Wait(ctx context.Context) (*domain.BuildResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
