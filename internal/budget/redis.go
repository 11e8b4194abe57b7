package budget

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters implements CounterStore on Redis so the per-user caps
// hold across server replicas.
type RedisCounters struct {
	rdb *redis.Client
}

var _ CounterStore = (*RedisCounters)(nil)

// NewRedisCounters wraps an existing Redis client.
func NewRedisCounters(rdb *redis.Client) *RedisCounters {
	return &RedisCounters{rdb: rdb}
}

func (r *RedisCounters) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// IncrBy increments inside a transaction so the expiry lands on the
// same key version as the increment. ExpireNX keeps the first write's
// deadline: later spend does not extend a window.
func (r *RedisCounters) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
