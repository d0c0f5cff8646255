package ports

// InputResolver resolves declared input patterns to concrete file paths.
//
//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=mocks/mock_resolver.go -package=mocks
type InputResolver interface {
	// ResolveInputs resolves the given input patterns relative to root and
	// returns a sorted, deduplicated list of file paths. A pattern with no
	// matches yields a *domain.MissingInputError.
	ResolveInputs(inputs []string, root string) ([]string, error)
}
