// Package trust maintains the bounded per-user reputation score read by
// the create guard and the policy engine.
package trust

import (
	"context"
	"fmt"
	"time"
)

// Score is one user's trust row.
type Score struct {
	UserID      string    `json:"user_id"`
	Score       int       `json:"score"`
	LastEventAt time.Time `json:"last_event_at"`
}

// Repository is the storage contract. AdjustScore is the atomicity
// boundary: concurrent adjustments to the same user must not lose
// updates, so implementations clamp-and-increment in a single storage
// operation (conditional upsert, or a per-store lock for the in-memory
// variant) rather than read-modify-write.
type Repository interface {
	GetScore(ctx context.Context, userID string) (*int, error)
	UpsertScore(ctx context.Context, userID string, score int, eventAt time.Time) error
	AdjustScore(ctx context.Context, userID string, delta, def, min, max int, eventAt time.Time) (int, error)
}

// Ledger wraps a Repository with the configured bounds and default.
type Ledger struct {
	repo Repository
	min  int
	max  int
	def  int
	now  func() time.Time
}

func NewLedger(repo Repository, min, max, def int) *Ledger {
	return &Ledger{repo: repo, min: min, max: max, def: def, now: time.Now}
}

// Hydrate ensures a trust row exists for the user and returns its score.
// Absent users are created at the default score.
func (l *Ledger) Hydrate(ctx context.Context, userID string) (int, error) {
	score, err := l.repo.GetScore(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("reading trust score: %w", err)
	}
	if score != nil {
		return *score, nil
	}
	if err := l.repo.UpsertScore(ctx, userID, l.def, l.now()); err != nil {
		return 0, fmt.Errorf("writing default trust score: %w", err)
	}
	return l.def, nil
}

// Adjust applies a clamped delta and returns the new score. The clamp is
// applied at the storage layer, never here, so the result stays within
// bounds under concurrency.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int) (int, error) {
	score, err := l.repo.AdjustScore(ctx, userID, delta, l.def, l.min, l.max, l.now())
	if err != nil {
		return 0, fmt.Errorf("adjusting trust score: %w", err)
	}
	return score, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
