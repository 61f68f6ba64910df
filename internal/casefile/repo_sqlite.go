package casefile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	subject_type TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	status TEXT NOT NULL,
	severity INTEGER NOT NULL,
	policy_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_subject ON cases(subject_type, subject_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);

CREATE TABLE IF NOT EXISTS actions (
	case_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	action TEXT NOT NULL,
	payload TEXT,
	actor_id TEXT,
	created_at TEXT NOT NULL,
	UNIQUE(case_id, decision_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	group_id TEXT,
	meta TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_group ON audit_log(group_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS appeals (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	status TEXT NOT NULL,
	note TEXT
);
`

// SQLiteRepository is the embedded case store for single-node
// deployments. Writes serialize on the store mutex, which also makes
// per-subject case creation race-free in one process.
type SQLiteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (or creates) the case database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening case db: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) GetCase(ctx context.Context, id string) (*Case, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject_type, subject_id, status, severity, policy_id, created_at, updated_at
		FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

func (r *SQLiteRepository) GetOpenCase(ctx context.Context, subjectType SubjectType, subjectID string) (*Case, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject_type, subject_id, status, severity, policy_id, created_at, updated_at
		FROM cases
		WHERE subject_type = ? AND subject_id = ? AND status IN ('open', 'escalated')
		LIMIT 1`, subjectType, subjectID)
	return scanCase(row)
}

func (r *SQLiteRepository) CreateCase(ctx context.Context, c *Case) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// double-check under the write lock so two workers racing on one
	// subject converge on a single case
	existing, err := r.GetOpenCase(ctx, c.SubjectType, c.SubjectID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cases (id, subject_type, subject_id, status, severity, policy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SubjectType, c.SubjectID, c.Status, c.Severity, c.PolicyID,
		c.CreatedAt.UTC().Format(time.RFC3339Nano), c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("inserting case: %w", err)
	}
	cp := *c
	return &cp, nil
}

func (r *SQLiteRepository) UpdateCase(ctx context.Context, id string, status CaseStatus, severity int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET status = ?, severity = ?, updated_at = ? WHERE id = ?`,
		status, severity, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) AppendAction(ctx context.Context, a Action) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return false, fmt.Errorf("encoding action payload: %w", err)
	}
	var actor sql.NullString
	if a.ActorID != nil {
		actor = sql.NullString{String: *a.ActorID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO actions (case_id, decision_id, action, payload, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id, decision_id) DO NOTHING`,
		a.CaseID, a.DecisionID, a.Name, string(payload), actor,
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("inserting action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListActions(ctx context.Context, caseID string) ([]Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT case_id, decision_id, action, payload, actor_id, created_at
		FROM actions WHERE case_id = ? ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Action
	for rows.Next() {
		var a Action
		var payload sql.NullString
		var actor sql.NullString
		var created string
		if err := rows.Scan(&a.CaseID, &a.DecisionID, &a.Name, &payload, &actor, &created); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if payload.Valid && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("decoding action payload: %w", err)
			}
		}
		if actor.Valid {
			v := actor.String
			a.ActorID = &v
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AppendAudit(ctx context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("encoding audit meta: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, group_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.GroupID, string(meta),
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAudit(ctx context.Context, groupID string, after time.Time, limit int) ([]AuditEntry, error) {
	query := `SELECT id, actor_id, action, target_type, target_id, group_id, meta, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	if groupID != "" {
		query += " AND group_id = ?"
		args = append(args, groupID)
	}
	if !after.IsZero() {
		query += " AND created_at > ?"
		args = append(args, after.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY created_at ASC"
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var group, meta sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &group, &meta, &created); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.GroupID = group.String
		if meta.Valid && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("decoding audit meta: %w", err)
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateAppeal(ctx context.Context, a *Appeal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.GetCase(ctx, a.CaseID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appeals (id, case_id, status, note) VALUES (?, ?, ?, ?)`,
		a.ID, a.CaseID, a.Status, a.Note)
	if err != nil {
		return fmt.Errorf("inserting appeal: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	var a Appeal
	err := r.db.QueryRowContext(ctx, `
		SELECT id, case_id, status, note FROM appeals WHERE id = ?`, id).
		Scan(&a.ID, &a.CaseID, &a.Status, &a.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) UpdateAppeal(ctx context.Context, id string, status AppealStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.ExecContext(ctx, `
		UPDATE appeals SET status = ?, note = ? WHERE id = ?`, status, note, id)
	if err != nil {
		return fmt.Errorf("updating appeal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*Case, error) {
	var c Case
	var policy sql.NullString
	var created, updated string
	err := row.Scan(&c.ID, &c.SubjectType, &c.SubjectID, &c.Status, &c.Severity, &policy, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	c.PolicyID = policy.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &c, nil
}
