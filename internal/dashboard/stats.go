package dashboard

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// statsCache collapses concurrent stats requests into one collection and
// serves the cached snapshot within the TTL. The double-check after
// singleflight.Do keeps a stale winner from overwriting a fresher entry.
type statsCache struct {
	collect StatsFunc
	ttl     time.Duration

	group singleflight.Group

	mu  sync.Mutex
	val map[string]any
	at  time.Time
}

func newStatsCache(collect StatsFunc, ttl time.Duration) *statsCache {
	return &statsCache{collect: collect, ttl: ttl}
}

func (c *statsCache) Get() (map[string]any, error) {
	c.mu.Lock()
	if c.val != nil && time.Since(c.at) < c.ttl {
		v := c.val
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("stats", func() (any, error) {
		// another waiter may have refreshed while we queued
		c.mu.Lock()
		if c.val != nil && time.Since(c.at) < c.ttl {
			v := c.val
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		stats, err := c.collect()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.val = stats
		c.at = time.Now()
		c.mu.Unlock()
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}
