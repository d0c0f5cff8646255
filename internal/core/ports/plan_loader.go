// Package ports defines the core interfaces for the application.
package ports

import "github.com/loomworks/loom/internal/core/domain"

// PlanLoader loads the declarative plan from disk.
//
//go:generate go run go.uber.org/mock/mockgen -source=plan_loader.go -destination=mocks/mock_plan_loader.go -package=mocks
type PlanLoader interface {
	// Load locates the plan file starting from the given working directory
	// and returns the parsed plan.
	Load(cwd string) (*domain.Plan, error)
}
