package textstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTextPrefix = "duptext/"

// RedisTextStore is a shared text store for multi-process deployments.
// The counter carries the full window TTL from first sighting, so the
// window is anchored at the first occurrence rather than sliding.
type RedisTextStore struct {
	Client *redis.Client
	Window time.Duration
}

var _ TextStore = (*RedisTextStore)(nil)

func (s *RedisTextStore) Observe(ctx context.Context, userID, fp string) (int, error) {
	key := redisTextPrefix + userID + "/" + fp

	multi := s.Client.Pipeline()
	incr := multi.Incr(ctx, key)
	multi.ExpireNX(ctx, key, s.Window)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}
