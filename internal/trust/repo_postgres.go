package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const trustSchema = `
CREATE TABLE IF NOT EXISTS trust_scores (
	user_id TEXT PRIMARY KEY,
	score INTEGER NOT NULL,
	last_event_at TIMESTAMPTZ NOT NULL
);
`

// PostgresRepository is the shared trust store for multi-process
// deployments. The clamped increment runs inside a single upsert, so
// concurrent adjustments to one user serialize on the row and never lose
// updates.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, trustSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating trust schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetScore(ctx context.Context, userID string) (*int, error) {
	var score int
	err := r.pool.QueryRow(ctx,
		`SELECT score FROM trust_scores WHERE user_id = $1`, userID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (r *PostgresRepository) UpsertScore(ctx context.Context, userID string, score int, eventAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trust_scores (user_id, score, last_event_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET score = EXCLUDED.score, last_event_at = EXCLUDED.last_event_at`,
		userID, score, eventAt)
	return err
}

func (r *PostgresRepository) AdjustScore(ctx context.Context, userID string, delta, def, min, max int, eventAt time.Time) (int, error) {
	var score int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO trust_scores (user_id, score, last_event_at)
		VALUES ($1, LEAST($5, GREATEST($4, $2 + $3)), $6)
		ON CONFLICT (user_id) DO UPDATE
		SET score = LEAST($5, GREATEST($4, trust_scores.score + $3)),
		    last_event_at = EXCLUDED.last_event_at
		RETURNING score`,
		userID, def, delta, min, max, eventAt).Scan(&score)
	if err != nil {
		return 0, err
	}
	return score, nil
}
