package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// ProjectionCache implements domain.ProjectionCache on Redis strings. Each
// entry is a JSON-encoded projection stored under "proj:{structural key}".
// The structural key already carries the cluster id, constraint shape and
// version, so entries for a changed cluster are unreachable; Invalidate
// exists for operational cleanup after a manual cluster review.
type ProjectionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProjectionCache creates a ProjectionCache whose entries expire after ttl.
func NewProjectionCache(c *Client, ttl time.Duration) *ProjectionCache {
	return &ProjectionCache{rdb: c.rdb, ttl: ttl}
}

func projectionKey(key string) string {
	return "proj:" + key
}

// Get returns the cached projection for the structural key. A stored value
// that fails to decode is reported as ErrCacheInconsistency so the caller
// recomputes and overwrites it rather than serving it.
func (pc *ProjectionCache) Get(ctx context.Context, key string) (domain.Projection, bool, error) {
	raw, err := pc.rdb.Get(ctx, projectionKey(key)).Bytes()
	if err == redis.Nil {
		return domain.Projection{}, false, nil
	}
	if err != nil {
		return domain.Projection{}, false, fmt.Errorf("redis: get projection %s: %w", key, err)
	}

	var p domain.Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Projection{}, false, fmt.Errorf("redis: projection %s undecodable: %v: %w", key, err, domain.ErrCacheInconsistency)
	}
	return p, true, nil
}

// Put stores the projection under the structural key with the configured TTL.
func (pc *ProjectionCache) Put(ctx context.Context, key string, p domain.Projection) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode projection %s: %w", key, err)
	}
	if err := pc.rdb.Set(ctx, projectionKey(key), raw, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put projection %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every cached projection belonging to the cluster.
func (pc *ProjectionCache) Invalidate(ctx context.Context, clusterID string) error {
	pattern := projectionKey(clusterID + ":*")
	var cursor uint64
	for {
		keys, next, err := pc.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return fmt.Errorf("redis: scan projections %s: %w", clusterID, err)
		}
		if len(keys) > 0 {
			if err := pc.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: delete projections %s: %w", clusterID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Compile-time interface check.
var _ domain.ProjectionCache = (*ProjectionCache)(nil)
