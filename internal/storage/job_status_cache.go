package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardano-wallet-scanner/internal/types"
)

// JobStatusCache keeps recent sync job status snapshots in Redis so
// status pollers don't hit Postgres on every request. Terminal
// snapshots stay cached longer since they never change again.
type JobStatusCache struct {
	redis       *RedisCache
	activeTTL   time.Duration
	terminalTTL time.Duration
}

// NewJobStatusCache creates a job status cache.
func NewJobStatusCache(redis *RedisCache) *JobStatusCache {
	return &JobStatusCache{
		redis:       redis,
		activeTTL:   30 * time.Second,
		terminalTTL: 10 * time.Minute,
	}
}

func jobStatusKey(jobID string) string {
	return "syncjob:" + jobID
}

// Put stores a job status snapshot.
func (c *JobStatusCache) Put(ctx context.Context, status *types.JobStatusResponse) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	ttl := c.activeTTL
	if status.Status.Terminal() {
		ttl = c.terminalTTL
	}
	return c.redis.Set(ctx, jobStatusKey(status.JobID), string(data), ttl)
}

// Get retrieves a cached snapshot, or nil on a miss.
func (c *JobStatusCache) Get(ctx context.Context, jobID string) (*types.JobStatusResponse, error) {
	raw, found, err := c.redis.Get(ctx, jobStatusKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to get job status from cache: %w", err)
	}
	if !found {
		return nil, nil
	}

	var status types.JobStatusResponse
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached job status: %w", err)
	}
	return &status, nil
}

// Invalidate drops a job's cached snapshot.
func (c *JobStatusCache) Invalidate(ctx context.Context, jobID string) error {
	return c.redis.Del(ctx, jobStatusKey(jobID))
}
