package watcher_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/loomworks/loom/internal/adapters/watcher"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports/mocks"
)

const cacheRoot = "/proj"

func newCacheTarget(name string, inputs ...string) domain.Target {
	interned := make([]domain.InternedString, len(inputs))
	for i, input := range inputs {
		interned[i] = domain.NewInternedString(input)
	}
	return domain.Target{
		Name:   domain.NewInternedString(name),
		Run:    []string{"cc", "-o", "bin/" + name},
		Inputs: interned,
	}
}

func TestHashCache_ComputeMemoizes(t *testing.T) {
	ctrl := gomock.NewController(t)
	hasher := mocks.NewMockHasher(ctrl)
	resolver := mocks.NewMockInputResolver(ctrl)

	target := newCacheTarget("app", "main.c")

	resolver.EXPECT().
		ResolveInputs([]string{"main.c"}, cacheRoot).
		Return([]string{"/proj/main.c"}, nil)
	hasher.EXPECT().
		Fingerprint(&target, []string{"upfp"}, []string{"/proj/main.c"}).
		Return("fp1", nil)

	cache, err := watcher.NewHashCache(hasher, resolver)
	require.NoError(t, err)

	fp, err := cache.Compute(target, cacheRoot, []string{"upfp"})
	require.NoError(t, err)
	assert.Equal(t, "fp1", fp)

	got, ok := cache.Get("app", cacheRoot)
	assert.True(t, ok)
	assert.Equal(t, "fp1", got)
	assert.True(t, cache.Tracks("/proj/main.c"))
}

func TestHashCache_GetMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache, err := watcher.NewHashCache(mocks.NewMockHasher(ctrl), mocks.NewMockInputResolver(ctrl))
	require.NoError(t, err)

	_, ok := cache.Get("ghost", cacheRoot)
	assert.False(t, ok)
	assert.False(t, cache.Tracks("/proj/ghost.c"))
}

func TestHashCache_InvalidateDropsCoveredTargets(t *testing.T) {
	ctrl := gomock.NewController(t)
	hasher := mocks.NewMockHasher(ctrl)
	resolver := mocks.NewMockInputResolver(ctrl)

	target := newCacheTarget("app", "main.c")

	resolver.EXPECT().
		ResolveInputs(gomock.Any(), cacheRoot).
		Return([]string{"/proj/main.c"}, nil)
	hasher.EXPECT().
		Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("fp1", nil)

	cache, err := watcher.NewHashCache(hasher, resolver)
	require.NoError(t, err)

	_, err = cache.Compute(target, cacheRoot, nil)
	require.NoError(t, err)

	affected := cache.Invalidate([]string{"/proj/main.c"})
	assert.True(t, affected)

	_, ok := cache.Get("app", cacheRoot)
	assert.False(t, ok)
	assert.False(t, cache.Tracks("/proj/main.c"))
}

func TestHashCache_InvalidateUntrackedPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache, err := watcher.NewHashCache(mocks.NewMockHasher(ctrl), mocks.NewMockInputResolver(ctrl))
	require.NoError(t, err)

	assert.False(t, cache.Invalidate([]string{"/proj/README.md"}))
}

func TestHashCache_RecomputeReplacesIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	hasher := mocks.NewMockHasher(ctrl)
	resolver := mocks.NewMockInputResolver(ctrl)

	target := newCacheTarget("app", "src/**/*.c")

	gomock.InOrder(
		resolver.EXPECT().
			ResolveInputs(gomock.Any(), cacheRoot).
			Return([]string{"/proj/src/old.c"}, nil),
		resolver.EXPECT().
			ResolveInputs(gomock.Any(), cacheRoot).
			Return([]string{"/proj/src/new.c"}, nil),
	)
	hasher.EXPECT().
		Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("fp", nil).
		Times(2)

	cache, err := watcher.NewHashCache(hasher, resolver)
	require.NoError(t, err)

	_, err = cache.Compute(target, cacheRoot, nil)
	require.NoError(t, err)
	require.True(t, cache.Tracks("/proj/src/old.c"))

	_, err = cache.Compute(target, cacheRoot, nil)
	require.NoError(t, err)

	// The old resolution no longer covers the target.
	assert.False(t, cache.Tracks("/proj/src/old.c"))
	assert.True(t, cache.Tracks("/proj/src/new.c"))
}

func TestHashCache_ComputeErrors(t *testing.T) {
	resolveErr := errors.New("glob failed")
	hashErr := errors.New("io error")

	t.Run("Resolver Failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hasher := mocks.NewMockHasher(ctrl)
		resolver := mocks.NewMockInputResolver(ctrl)

		resolver.EXPECT().
			ResolveInputs(gomock.Any(), cacheRoot).
			Return(nil, resolveErr)

		cache, err := watcher.NewHashCache(hasher, resolver)
		require.NoError(t, err)

		_, err = cache.Compute(newCacheTarget("app", "main.c"), cacheRoot, nil)
		assert.ErrorIs(t, err, resolveErr)
	})

	t.Run("Hasher Failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hasher := mocks.NewMockHasher(ctrl)
		resolver := mocks.NewMockInputResolver(ctrl)

		resolver.EXPECT().
			ResolveInputs(gomock.Any(), cacheRoot).
			Return([]string{"/proj/main.c"}, nil)
		hasher.EXPECT().
			Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", hashErr)

		cache, err := watcher.NewHashCache(hasher, resolver)
		require.NoError(t, err)

		_, err = cache.Compute(newCacheTarget("app", "main.c"), cacheRoot, nil)
		assert.ErrorIs(t, err, hashErr)
	})
}
