package countstore

import (
	"context"
	"sync"
	"time"
)

// MemCountStore is a process-local count store for single-node deployments
// and tests. All counters share the store window, so a window rollover
// drops every stale bucket at once instead of letting keys from past
// windows pile up.
type MemCountStore struct {
	mu     sync.Mutex
	window time.Duration
	slot   int64
	counts map[string]int
	now    func() time.Time
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore(window time.Duration) *MemCountStore {
	return &MemCountStore{
		window: window,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

func (s *MemCountStore) Hit(ctx context.Context, name, val string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate(s.now())
	k := name + "/" + val
	s.counts[k]++
	return s.counts[k], nil
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate(s.now())
	return s.counts[name+"/"+val], nil
}

// rotate resets the counters when the window boundary passes. Callers
// hold the mutex.
func (s *MemCountStore) rotate(now time.Time) {
	slot := now.UTC().Unix() / int64(s.window.Seconds())
	if slot != s.slot {
		s.slot = slot
		s.counts = make(map[string]int)
	}
}
