package repository

import (
	"context"
	"time"
)

// RateLimiter is a fixed-window counter. Rejected attempts still count
// against the window so retry storms cannot reset it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
