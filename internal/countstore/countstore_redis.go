package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCountPrefix = "count/"

// RedisCountStore is a shared count store for multi-process deployments.
// Increments are atomic at the Redis level, so concurrent workers and
// request handlers never lose updates.
type RedisCountStore struct {
	Client *redis.Client
	Window time.Duration
}

var _ CountStore = (*RedisCountStore)(nil)

func (s *RedisCountStore) Hit(ctx context.Context, name, val string) (int, error) {
	key := redisCountPrefix + windowBucket(name, val, s.Window, time.Now())

	// increment and refresh expiry in a single round-trip
	multi := s.Client.Pipeline()
	incr := multi.Incr(ctx, key)
	multi.Expire(ctx, key, 2*s.Window)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val string) (int, error) {
	key := redisCountPrefix + windowBucket(name, val, s.Window, time.Now())
	c, err := s.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}
