package trust

import (
	"context"
	"sync"
	"time"
)

// MemRepository is a process-local trust store for single-node
// deployments and tests. The store mutex serializes adjustments.
type MemRepository struct {
	mu     sync.Mutex
	scores map[string]Score
}

var _ Repository = (*MemRepository)(nil)

func NewMemRepository() *MemRepository {
	return &MemRepository{scores: make(map[string]Score)}
}

func (r *MemRepository) GetScore(ctx context.Context, userID string) (*int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scores[userID]
	if !ok {
		return nil, nil
	}
	v := s.Score
	return &v, nil
}

func (r *MemRepository) UpsertScore(ctx context.Context, userID string, score int, eventAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[userID] = Score{UserID: userID, Score: score, LastEventAt: eventAt}
	return nil
}

func (r *MemRepository) AdjustScore(ctx context.Context, userID string, delta, def, min, max int, eventAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := def
	if s, ok := r.scores[userID]; ok {
		cur = s.Score
	}
	next := clamp(cur+delta, min, max)
	r.scores[userID] = Score{UserID: userID, Score: next, LastEventAt: eventAt}
	return next, nil
}
