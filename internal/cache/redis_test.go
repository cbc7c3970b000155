package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestCache creates a RedisCache backed by an in-process miniredis.
func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	c := NewRedisCache(cfg)
	t.Cleanup(func() {
		_ = c.Close()
	})

	return c, mr
}

func TestMarkPublishedAndIsOnChain(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	onChain, err := c.IsOnChain(ctx, "chain-a", "gid-1")
	require.NoError(t, err)
	assert.False(t, onChain)

	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-1"))

	onChain, err = c.IsOnChain(ctx, "chain-a", "gid-1")
	require.NoError(t, err)
	assert.True(t, onChain)

	// Other chains are unaffected.
	onChain, err = c.IsOnChain(ctx, "chain-b", "gid-1")
	require.NoError(t, err)
	assert.False(t, onChain)
}

func TestMarkPublishedIsIdempotent(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-1"))
	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-1"))

	members, err := mr.SMembers("publishedEvents:chain-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"gid-1"}, members)
}

func TestMissingChains(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	chains := []string{"chain-a", "chain-b", "chain-c"}

	missing, err := c.MissingChains(ctx, "gid-1", chains)
	require.NoError(t, err)
	assert.Equal(t, chains, missing)

	require.NoError(t, c.MarkPublished(ctx, "chain-b", "gid-1"))

	missing, err = c.MissingChains(ctx, "gid-1", chains)
	require.NoError(t, err)
	assert.Equal(t, []string{"chain-a", "chain-c"}, missing)

	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-1"))
	require.NoError(t, c.MarkPublished(ctx, "chain-c", "gid-1"))

	missing, err = c.MissingChains(ctx, "gid-1", chains)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMissingChainsEmptyInput(t *testing.T) {
	c, _ := setupTestCache(t)

	missing, err := c.MissingChains(context.Background(), "gid-1", nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestNotifiedSet(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	notified, err := c.IsNotified(ctx, "gid-1")
	require.NoError(t, err)
	assert.False(t, notified)

	require.NoError(t, c.MarkNotified(ctx, "gid-1"))
	require.NoError(t, c.MarkNotified(ctx, "gid-1"))

	notified, err = c.IsNotified(ctx, "gid-1")
	require.NoError(t, err)
	assert.True(t, notified)

	notified, err = c.IsNotified(ctx, "gid-2")
	require.NoError(t, err)
	assert.False(t, notified)
}

func TestStats(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-1"))
	require.NoError(t, c.MarkPublished(ctx, "chain-a", "gid-2"))
	require.NoError(t, c.MarkPublished(ctx, "chain-b", "gid-1"))
	require.NoError(t, c.MarkNotified(ctx, "gid-1"))

	stats, err := c.Stats(ctx, []string{"chain-a", "chain-b", "chain-c"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PublishedEvents["chain-a"])
	assert.Equal(t, int64(1), stats.PublishedEvents["chain-b"])
	assert.Equal(t, int64(0), stats.PublishedEvents["chain-c"])
	assert.Equal(t, int64(1), stats.NotifiedEvents)
}

func TestPing(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	mr.Close()

	err := c.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOperationsAfterBackendLoss(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	mr.Close()

	err := c.MarkPublished(ctx, "chain-a", "gid-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.IsNotified(ctx, "gid-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.MissingChains(ctx, "gid-1", []string{"chain-a"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
