package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ollama-webchat/internal/config"
	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.KeyValueStore = (*redClient)(nil)

// redClient adapts one multiplexed go-redis client to the
// KeyValueStore port. It is safe for concurrent use; pool sizing is a
// deployment detail taken from config.
type redClient struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redClient{cli: c}, nil
}

func (c *redClient) Ping(ctx context.Context) error { return wrap(c.cli.Ping(ctx).Err()) }
func (c *redClient) Close() error                   { return c.cli.Close() }

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.cli.Get(ctx, key).Result()
	return v, wrap(err)
}

func (c *redClient) Set(ctx context.Context, key, value string) error {
	return wrap(c.cli.Set(ctx, key, value, 0).Err())
}

func (c *redClient) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap(c.cli.Set(ctx, key, value, ttl).Err())
}

func (c *redClient) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.cli.Incr(ctx, key).Result()
	return n, wrap(err)
}

func (c *redClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap(c.cli.Expire(ctx, key, ttl).Err())
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap(c.cli.Del(ctx, keys...).Err())
}

func (c *redClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.cli.HGetAll(ctx, key).Result()
	return m, wrap(err)
}

func (c *redClient) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return wrap(c.cli.HSet(ctx, key, args...).Err())
}

func (c *redClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap(c.cli.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err())
}

func (c *redClient) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := c.cli.ZRange(ctx, key, start, stop).Result()
	return v, wrap(err)
}

func (c *redClient) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := c.cli.ZRevRange(ctx, key, start, stop).Result()
	return v, wrap(err)
}

func (c *redClient) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(c.cli.ZRem(ctx, key, args...).Err())
}

func (c *redClient) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := c.cli.ZCard(ctx, key).Result()
	return n, wrap(err)
}

func (c *redClient) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(c.cli.SAdd(ctx, key, args...).Err())
}

func (c *redClient) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := c.cli.SMembers(ctx, key).Result()
	return v, wrap(err)
}

func (c *redClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := c.cli.Keys(ctx, pattern).Result()
	return v, wrap(err)
}

// wrap maps go-redis errors onto the domain taxonomy: redis.Nil means
// the key does not exist, anything else is a transient store failure.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return domain.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}
