package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/ports/repository"
)

var _ repository.ResponseCache = (*ResponseCache)(nil)

// ResponseCache keys completions by a digest of the normalized prompt
// text only, not the conversation history. Two conversations asking the
// identical question share one cached answer; that is the deployment's
// latency/cost tradeoff, not a correctness property.
type ResponseCache struct {
	kv  repository.KeyValueStore
	ttl time.Duration
}

func NewResponseCache(kv repository.KeyValueStore, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{kv: kv, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, prompt string) (string, bool, error) {
	v, err := c.kv.Get(ctx, cacheKey(prompt))
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *ResponseCache) Put(ctx context.Context, prompt, completion string) error {
	return c.kv.SetWithTTL(ctx, cacheKey(prompt), completion, c.ttl)
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(prompt)))
	return "ai_response:" + hex.EncodeToString(sum[:])
}
