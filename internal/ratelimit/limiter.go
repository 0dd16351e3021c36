package ratelimit

import (
	"context"
	"time"
)

// Limiter is a fixed-window counter keyed by caller identity.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
