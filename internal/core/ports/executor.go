package ports

import (
	"context"
	"io"

	"github.com/loomworks/loom/internal/core/domain"
)

// Executor runs a single work order to completion in the local process tree.
// Worker backends use an Executor to perform the actual process execution.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Execute runs the order's argv and waits for it to complete.
	// Output is streamed to stdout and stderr as it is produced.
	Execute(ctx context.Context, order *domain.WorkOrder, stdout, stderr io.Writer) error
}
