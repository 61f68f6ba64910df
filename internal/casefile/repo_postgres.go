package casefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const caseSchema = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	subject_type TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	status TEXT NOT NULL,
	severity INTEGER NOT NULL,
	policy_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_one_active
	ON cases(subject_type, subject_id)
	WHERE status IN ('open', 'escalated');

CREATE TABLE IF NOT EXISTS actions (
	case_id TEXT NOT NULL REFERENCES cases(id),
	decision_id TEXT NOT NULL,
	action TEXT NOT NULL,
	payload JSONB,
	actor_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(case_id, decision_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	group_id TEXT,
	meta JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_group ON audit_log(group_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS appeals (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	status TEXT NOT NULL,
	note TEXT
);
`

// PostgresRepository is the shared case store for multi-process
// deployments. The partial unique index on active cases makes
// CreateCase race-free across workers: the loser of a concurrent insert
// re-reads the winner's case.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, caseSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating case schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetCase(ctx context.Context, id string) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, subject_type, subject_id, status, severity, COALESCE(policy_id, ''), created_at, updated_at
		FROM cases WHERE id = $1`, id)
	return scanPgCase(row)
}

func (r *PostgresRepository) GetOpenCase(ctx context.Context, subjectType SubjectType, subjectID string) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, subject_type, subject_id, status, severity, COALESCE(policy_id, ''), created_at, updated_at
		FROM cases
		WHERE subject_type = $1 AND subject_id = $2 AND status IN ('open', 'escalated')`,
		subjectType, subjectID)
	return scanPgCase(row)
}

func (r *PostgresRepository) CreateCase(ctx context.Context, c *Case) (*Case, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO cases (id, subject_type, subject_id, status, severity, policy_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT DO NOTHING`,
		c.ID, c.SubjectType, c.SubjectID, c.Status, c.Severity, c.PolicyID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// lost the race, return the active case that blocked the insert
		return r.GetOpenCase(ctx, c.SubjectType, c.SubjectID)
	}
	cp := *c
	return &cp, nil
}

func (r *PostgresRepository) UpdateCase(ctx context.Context, id string, status CaseStatus, severity int, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cases SET status = $2, severity = $3, updated_at = $4 WHERE id = $1`,
		id, status, severity, at)
	if err != nil {
		return fmt.Errorf("updating case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AppendAction(ctx context.Context, a Action) (bool, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return false, fmt.Errorf("encoding action payload: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO actions (case_id, decision_id, action, payload, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id, decision_id) DO NOTHING`,
		a.CaseID, a.DecisionID, a.Name, payload, a.ActorID, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting action: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) ListActions(ctx context.Context, caseID string) ([]Action, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT case_id, decision_id, action, payload, actor_id, created_at
		FROM actions WHERE case_id = $1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		var payload []byte
		if err := rows.Scan(&a.CaseID, &a.DecisionID, &a.Name, &payload, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &a.Payload); err != nil {
				return nil, fmt.Errorf("decoding action payload: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, e AuditEntry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("encoding audit meta: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, group_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.GroupID, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAudit(ctx context.Context, groupID string, after time.Time, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, target_type, target_id, COALESCE(group_id, ''), meta, created_at
		FROM audit_log
		WHERE ($1 = '' OR group_id = $1) AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY created_at ASC
		LIMIT $3`, groupID, nullableTime(after), limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.GroupID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("decoding audit meta: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateAppeal(ctx context.Context, a *Appeal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appeals (id, case_id, status, note) VALUES ($1, $2, $3, $4)`,
		a.ID, a.CaseID, a.Status, a.Note)
	// 23503: foreign_key_violation, the case does not exist
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting appeal: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	var a Appeal
	err := r.pool.QueryRow(ctx, `
		SELECT id, case_id, status, COALESCE(note, '') FROM appeals WHERE id = $1`, id).
		Scan(&a.ID, &a.CaseID, &a.Status, &a.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) UpdateAppeal(ctx context.Context, id string, status AppealStatus, note string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appeals SET status = $2, note = $3 WHERE id = $1`, id, status, note)
	if err != nil {
		return fmt.Errorf("updating appeal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanPgCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.SubjectType, &c.SubjectID, &c.Status, &c.Severity, &c.PolicyID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	return &c, nil
}
