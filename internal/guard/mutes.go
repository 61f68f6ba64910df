package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemMuteRepository holds mutes in process memory. Expired entries are
// pruned on read.
type MemMuteRepository struct {
	mu    sync.Mutex
	until map[string]time.Time
}

var _ MuteRepository = (*MemMuteRepository)(nil)

func NewMemMuteRepository() *MemMuteRepository {
	return &MemMuteRepository{until: make(map[string]time.Time)}
}

func (r *MemMuteRepository) Mute(ctx context.Context, userID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.until[userID] = until
	return nil
}

func (r *MemMuteRepository) MutedUntil(ctx context.Context, userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.until[userID]
	if !ok {
		return time.Time{}, nil
	}
	if !until.After(time.Now()) {
		delete(r.until, userID)
		return time.Time{}, nil
	}
	return until, nil
}

// RedisMuteRepository stores mutes as keys that expire with the mute, so
// the backend cleans up after itself.
type RedisMuteRepository struct {
	client *redis.Client
}

var _ MuteRepository = (*RedisMuteRepository)(nil)

func NewRedisMuteRepository(client *redis.Client) *RedisMuteRepository {
	return &RedisMuteRepository{client: client}
}

func muteKey(userID string) string {
	return "mute/" + userID
}

func (r *RedisMuteRepository) Mute(ctx context.Context, userID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, muteKey(userID), until.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisMuteRepository) MutedUntil(ctx context.Context, userID string) (time.Time, error) {
	val, err := r.client.Get(ctx, muteKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}
