package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// DecisionCache implements domain.DecisionCache on plain Redis strings:
// "decision:{pairKey}" holds the wire name of the oracle's verdict. The
// escalator only stores accept and reject; a defer is transient and is
// re-asked next epoch.
type DecisionCache struct {
	rdb *redis.Client
}

// NewDecisionCache creates a DecisionCache on the shared client.
func NewDecisionCache(c *Client) *DecisionCache {
	return &DecisionCache{rdb: c.rdb}
}

func decisionKey(pairKey string) string {
	return "decision:" + pairKey
}

// Get returns the cached decision for a normalized pair key. A stored value
// that names no known decision is reported as ErrCacheInconsistency so the
// caller re-escalates instead of trusting it.
func (dc *DecisionCache) Get(ctx context.Context, pairKey string) (domain.Decision, bool, error) {
	raw, err := dc.rdb.Get(ctx, decisionKey(pairKey)).Result()
	if err == redis.Nil {
		return domain.DecisionDefer, false, nil
	}
	if err != nil {
		return domain.DecisionDefer, false, fmt.Errorf("redis: get decision %s: %w", pairKey, err)
	}

	switch raw {
	case domain.DecisionAccept.String():
		return domain.DecisionAccept, true, nil
	case domain.DecisionReject.String():
		return domain.DecisionReject, true, nil
	default:
		return domain.DecisionDefer, false, fmt.Errorf("redis: decision %s holds %q: %w", pairKey, raw, domain.ErrCacheInconsistency)
	}
}

// Put stores a decision for the pair key with the given TTL.
func (dc *DecisionCache) Put(ctx context.Context, pairKey string, d domain.Decision, ttl time.Duration) error {
	if err := dc.rdb.Set(ctx, decisionKey(pairKey), d.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: put decision %s: %w", pairKey, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DecisionCache = (*DecisionCache)(nil)
