package domain

import (
	"context"
	"time"
)

// StatsCache provides short-lived caching of computed pool and user views so
// read endpoints do not hit Postgres on every request. Mutating operations
// invalidate the affected entries.
type StatsCache interface {
	SetProtocolStats(ctx context.Context, stats ProtocolStats) error
	GetProtocolStats(ctx context.Context) (ProtocolStats, error)
	SetUserStats(ctx context.Context, stats UserStats) error
	GetUserStats(ctx context.Context, owner string) (UserStats, error)
	Invalidate(ctx context.Context, owners ...string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
