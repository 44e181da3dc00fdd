package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/types"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "test:key", "test-value", 10*time.Second))

	got, found, err := cache.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "test-value", got)

	_, found, err = cache.Get(ctx, "test:missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheExpiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "test:ttl", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, found, err := cache.Get(ctx, "test:ttl")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheDelExists(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	exists, err := cache.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cache.Set(ctx, "test:exists", "v", time.Minute))

	exists, err = cache.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Del(ctx, "test:exists"))

	exists, err = cache.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJobStatusCacheRoundTrip(t *testing.T) {
	cache, mr := setupTestRedis(t)
	jobs := NewJobStatusCache(cache)
	ctx := context.Background()

	progress := 42.5
	status := &types.JobStatusResponse{
		JobID:    "job-123",
		Status:   types.JobProcessing,
		Progress: &progress,
	}
	require.NoError(t, jobs.Put(ctx, status))

	got, err := jobs.Get(ctx, "job-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-123", got.JobID)
	assert.Equal(t, types.JobProcessing, got.Status)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 42.5, *got.Progress)

	// Active snapshots expire quickly.
	mr.FastForward(time.Minute)
	got, err = jobs.Get(ctx, "job-123")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobStatusCacheTerminalTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	jobs := NewJobStatusCache(cache)
	ctx := context.Background()

	require.NoError(t, jobs.Put(ctx, &types.JobStatusResponse{
		JobID:  "job-done",
		Status: types.JobCompleted,
	}))

	// Terminal snapshots outlive the active TTL.
	mr.FastForward(time.Minute)
	got, err := jobs.Get(ctx, "job-done")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.JobCompleted, got.Status)

	mr.FastForward(15 * time.Minute)
	got, err = jobs.Get(ctx, "job-done")
	require.NoError(t, err)
	assert.Nil(t, got)
}
