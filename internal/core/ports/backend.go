package ports

import (
	"context"

	"github.com/loomworks/loom/internal/core/domain"
)

// Future is the handle for one submitted build.
//
//go:generate go run go.uber.org/mock/mockgen -source=backend.go -destination=mocks/mock_backend.go -package=mocks
type Future interface {
	// Wait blocks until the build finishes or ctx is cancelled.
	// A failed build returns a *domain.BuildError.
	Wait(ctx context.Context) (*domain.BuildResult, error)
}

// Backend dispatches work orders to an execution substrate.
//
// The engine never embeds backend-specific protocol logic: local goroutine
// pools, persistent worker pools, and batch-scheduler clients all satisfy
// this interface and are selected at configuration time.
type Backend interface {
	// Submit dispatches the work order and returns immediately.
	// A submission failure (as opposed to a build failure) is reported as a
	// retryable *domain.BuildError.
	Submit(ctx context.Context, order *domain.WorkOrder) (Future, error)

	// Close drains and shuts down the backend.
	Close() error
}
