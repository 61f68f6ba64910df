package textstore

import (
	"context"
	"sync"
	"time"
)

// MemTextStore is a process-local text store for single-node deployments
// and tests.
type MemTextStore struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string][]time.Time
	now    func() time.Time
}

var _ TextStore = (*MemTextStore)(nil)

func NewMemTextStore(window time.Duration) *MemTextStore {
	return &MemTextStore{
		window: window,
		seen:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (s *MemTextStore) Observe(ctx context.Context, userID, fp string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)
	key := userID + "/" + fp

	// prune expired sightings
	stamps := s.seen[key]
	fresh := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}

	fresh = append(fresh, now)
	s.seen[key] = fresh
	return len(fresh), nil
}
