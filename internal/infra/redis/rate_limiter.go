package redis

import (
	"context"
	"time"

	"ollama-webchat/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a fixed-window counter on top of the key-value store.
// The window rolls over via the store's own TTL; no clock correction.
type RateLimiter struct {
	kv repository.KeyValueStore
}

func NewRateLimiter(kv repository.KeyValueStore) *RateLimiter {
	return &RateLimiter{kv: kv}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.kv.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.kv.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}

	// The increment above already happened, so rejected attempts keep
	// counting against the window.
	return count <= int64(limit), nil
}
