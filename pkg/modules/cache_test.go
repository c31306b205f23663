package modules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, size int) (*EnablementCache, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	cache, err := NewEnablementCache(testRegistry(), src, size)
	require.NoError(t, err)
	return cache, src
}

func TestEnablementCache_Defaults(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = cache.IsModuleEnabled(ctx, "g1", "backups")
	require.NoError(t, err)
	assert.False(t, enabled, "backups is disabled by default")

	enabled, err = cache.IsCommandEnabled(ctx, "g1", "boot")
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = cache.IsModuleEnabled(ctx, "g1", "missing")
	assert.ErrorIs(t, err, ErrUnknownModule)
	_, err = cache.IsCommandEnabled(ctx, "g1", "missing")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEnablementCache_ExplicitRowWins(t *testing.T) {
	cache, src := newTestCache(t, 0)
	ctx := context.Background()

	src.setModule("g1", "moderation", true)
	src.setModule("g1", "backups", false)
	src.setCommand("g1", "kick", true)

	enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = cache.IsModuleEnabled(ctx, "g1", "backups")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = cache.IsCommandEnabled(ctx, "g1", "boot")
	require.NoError(t, err)
	assert.False(t, enabled, "alias resolves to the disabled command")
}

func TestEnablementCache_CachesUntilInvalidated(t *testing.T) {
	cache, src := newTestCache(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
		require.NoError(t, err)
		assert.True(t, enabled)
	}
	assert.Equal(t, 1, src.readCount())

	src.setModule("g1", "moderation", true)
	enabled, _ := cache.IsModuleEnabled(ctx, "g1", "moderation")
	assert.True(t, enabled, "stale until invalidated")

	cache.Invalidate("g1", "moderation")
	enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestEnablementCache_InvalidateDropsModuleCommands(t *testing.T) {
	cache, src := newTestCache(t, 0)
	ctx := context.Background()

	_, _ = cache.IsCommandEnabled(ctx, "g1", "kick")
	_, _ = cache.IsCommandEnabled(ctx, "g1", "backups create")
	_, _ = cache.IsCommandEnabled(ctx, "g2", "kick")
	require.Equal(t, 3, cache.Len())

	src.setCommand("g1", "kick", true)
	cache.Invalidate("g1", "moderation")
	assert.Equal(t, 2, cache.Len())

	enabled, err := cache.IsCommandEnabled(ctx, "g1", "kick")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestEnablementCache_BulkInvalidation(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	for _, guild := range []string{"g1", "g2"} {
		_, _ = cache.IsModuleEnabled(ctx, guild, "moderation")
		_, _ = cache.IsModuleEnabled(ctx, guild, "backups")
	}
	require.Equal(t, 4, cache.Len())

	cache.InvalidateGuild("g1")
	assert.Equal(t, 2, cache.Len())

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
}

func TestEnablementCache_EvictionKeepsIndexConsistent(t *testing.T) {
	cache, _ := newTestCache(t, 2)
	ctx := context.Background()

	_, _ = cache.IsModuleEnabled(ctx, "g1", "moderation")
	_, _ = cache.IsModuleEnabled(ctx, "g2", "moderation")
	_, _ = cache.IsModuleEnabled(ctx, "g3", "moderation")

	assert.Equal(t, 2, cache.Len())
	cache.mu.Lock()
	_, tracked := cache.byGuild["g1"]
	cache.mu.Unlock()
	assert.False(t, tracked, "evicted guild should leave the index")
}

func TestEnablementCache_ErrorsAreNotCached(t *testing.T) {
	cache, src := newTestCache(t, 0)
	ctx := context.Background()

	src.err = errors.New("db down")
	_, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.Error(t, err)

	src.err = nil
	enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 2, src.readCount())
}

// A fill that started before an invalidation must not store the value it
// read, or the invalidation would be lost.
func TestEnablementCache_FillRacingInvalidation(t *testing.T) {
	cache, src := newTestCache(t, 0)
	ctx := context.Background()

	gate := make(chan struct{})
	src.gate = gate

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
		assert.NoError(t, err)
		assert.True(t, enabled)
	}()

	require.Eventually(t, func() bool { return src.readCount() == 1 }, time.Second, time.Millisecond)
	src.setModule("g1", "moderation", true)
	cache.Invalidate("g1", "moderation")
	close(gate)
	wg.Wait()

	assert.Equal(t, 0, cache.Len())
	enabled, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestEnablementCache_Concurrent(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := cache.IsModuleEnabled(ctx, "g1", "moderation")
				assert.NoError(t, err)
				if j%10 == 0 {
					cache.InvalidateGuild("g1")
				}
			}
		}(i)
	}
	wg.Wait()
}
