// Package cache selects the fingerprint store backend named by the plan.
package cache

import (
	"fmt"

	"github.com/loomworks/loom/internal/adapters/cache/fscache"
	"github.com/loomworks/loom/internal/adapters/cache/sqlite"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
)

// NewStore returns the fingerprint store for the given backend name.
func NewStore(backend string) (ports.FingerprintStore, error) {
	switch backend {
	case "", domain.CacheBackendFS:
		return fscache.NewStore(), nil
	case domain.CacheBackendSQLite:
		return sqlite.NewStore(), nil
	default:
		return nil, zerr.With(fmt.Errorf("%w", domain.ErrInvalidCacheBackend), "backend", backend)
	}
}
