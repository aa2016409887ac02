package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lhermoso/grid-vault/internal/domain"
)

const statsTTL = 15 * time.Second

// StatsCache implements domain.StatsCache using JSON values with a short TTL.
// Stats are cheap to recompute, so staleness is bounded by the TTL and
// mutating operations additionally invalidate the touched entries.
//
// Key schema:
//
//	stats:protocol     - JSON-encoded ProtocolStats
//	stats:user:{owner} - JSON-encoded UserStats
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

const protocolStatsKey = "stats:protocol"

func userStatsKey(owner string) string { return "stats:user:" + owner }

// SetProtocolStats stores the pool-wide snapshot.
func (sc *StatsCache) SetProtocolStats(ctx context.Context, stats domain.ProtocolStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal protocol stats: %w", err)
	}
	if err := sc.rdb.Set(ctx, protocolStatsKey, data, statsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set protocol stats: %w", err)
	}
	return nil
}

// GetProtocolStats returns the cached pool snapshot, or domain.ErrNotFound on
// a miss.
func (sc *StatsCache) GetProtocolStats(ctx context.Context) (domain.ProtocolStats, error) {
	data, err := sc.rdb.Get(ctx, protocolStatsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProtocolStats{}, domain.ErrNotFound
		}
		return domain.ProtocolStats{}, fmt.Errorf("redis: get protocol stats: %w", err)
	}

	var stats domain.ProtocolStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.ProtocolStats{}, fmt.Errorf("redis: unmarshal protocol stats: %w", err)
	}
	return stats, nil
}

// SetUserStats stores one user's snapshot.
func (sc *StatsCache) SetUserStats(ctx context.Context, stats domain.UserStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal user stats %s: %w", stats.Owner, err)
	}
	if err := sc.rdb.Set(ctx, userStatsKey(stats.Owner), data, statsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set user stats %s: %w", stats.Owner, err)
	}
	return nil
}

// GetUserStats returns one user's cached snapshot, or domain.ErrNotFound on a
// miss.
func (sc *StatsCache) GetUserStats(ctx context.Context, owner string) (domain.UserStats, error) {
	data, err := sc.rdb.Get(ctx, userStatsKey(owner)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.UserStats{}, domain.ErrNotFound
		}
		return domain.UserStats{}, fmt.Errorf("redis: get user stats %s: %w", owner, err)
	}

	var stats domain.UserStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.UserStats{}, fmt.Errorf("redis: unmarshal user stats %s: %w", owner, err)
	}
	return stats, nil
}

// Invalidate drops the protocol snapshot and the given users' snapshots.
// Every mutating vault operation changes pool-wide figures, so the protocol
// entry always goes.
func (sc *StatsCache) Invalidate(ctx context.Context, owners ...string) error {
	keys := make([]string, 0, len(owners)+1)
	keys = append(keys, protocolStatsKey)
	for _, owner := range owners {
		keys = append(keys, userStatsKey(owner))
	}
	if err := sc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
