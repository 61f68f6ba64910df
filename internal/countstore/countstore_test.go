package countstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCountStoreBasics(t *testing.T) {
	ctx := context.Background()
	s := NewMemCountStore(time.Minute)

	c, err := s.GetCount(ctx, "create/post", "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	for i := 1; i <= 3; i++ {
		c, err = s.Hit(ctx, "create/post", "user1")
		require.NoError(t, err)
		assert.Equal(t, i, c)
	}

	// independent keys
	c, err = s.Hit(ctx, "create/comment", "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = s.GetCount(ctx, "create/post", "user2")
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestMemCountStoreWindowReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemCountStore(time.Minute)

	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.Hit(ctx, "create/post", "user1")
	require.NoError(t, err)

	// next window: count starts over
	s.now = func() time.Time { return base.Add(time.Minute) }
	c, err := s.Hit(ctx, "create/post", "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestMemCountStoreDropsStaleBuckets(t *testing.T) {
	ctx := context.Background()
	s := NewMemCountStore(time.Minute)

	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return base }

	for _, user := range []string{"user1", "user2", "user3"} {
		_, err := s.Hit(ctx, "create/post", user)
		require.NoError(t, err)
	}

	// the rollover drops every bucket from the previous window, so the
	// map only ever holds the keys active right now
	s.now = func() time.Time { return base.Add(time.Minute) }
	_, err := s.Hit(ctx, "create/post", "user1")
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.counts, 1)
}

func TestRedisCountStoreBasics(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := &RedisCountStore{Client: rdb, Window: time.Minute}

	c, err := s.GetCount(ctx, "create/post", "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	for i := 1; i <= 5; i++ {
		c, err = s.Hit(ctx, "create/post", "user1")
		require.NoError(t, err)
		assert.Equal(t, i, c)
	}

	c, err = s.GetCount(ctx, "create/post", "user1")
	require.NoError(t, err)
	assert.Equal(t, 5, c)
}

func TestLimiterBackendFailure(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lim := NewLimiter(&RedisCountStore{Client: rdb, Window: time.Minute})

	assert.Equal(t, 1, lim.Hit(ctx, "user1", "post"))
	assert.Equal(t, 2, lim.Hit(ctx, "user1", "post"))

	// backend down: -1, never a stale count
	mr.Close()
	assert.Equal(t, -1, lim.Hit(ctx, "user1", "post"))
}
