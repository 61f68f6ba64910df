package casefile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepository is a process-local case store for single-node deployments
// and tests. The store mutex serializes per-subject case creation.
type MemRepository struct {
	mu       sync.Mutex
	cases    map[string]*Case
	actions  map[string][]Action        // by case id
	actioned map[string]map[string]bool // case id -> decision ids seen
	audit    []AuditEntry
	audited  map[string]bool // audit entry ids seen
	appeals  map[string]*Appeal
}

var _ Repository = (*MemRepository)(nil)

func NewMemRepository() *MemRepository {
	return &MemRepository{
		cases:    make(map[string]*Case),
		actions:  make(map[string][]Action),
		actioned: make(map[string]map[string]bool),
		audited:  make(map[string]bool),
		appeals:  make(map[string]*Appeal),
	}
}

func (r *MemRepository) GetCase(ctx context.Context, id string) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemRepository) GetOpenCase(ctx context.Context, subjectType SubjectType, subjectID string) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findActive(subjectType, subjectID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *MemRepository) CreateCase(ctx context.Context, c *Case) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findActive(c.SubjectType, c.SubjectID); existing != nil {
		cp := *existing
		return &cp, nil
	}
	cp := *c
	r.cases[c.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemRepository) UpdateCase(ctx context.Context, id string, status CaseStatus, severity int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.Severity = severity
	c.UpdatedAt = at
	return nil
}

func (r *MemRepository) AppendAction(ctx context.Context, a Action) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[a.CaseID]; !ok {
		return false, ErrNotFound
	}
	seen := r.actioned[a.CaseID]
	if seen == nil {
		seen = make(map[string]bool)
		r.actioned[a.CaseID] = seen
	}
	if a.DecisionID != "" && seen[a.DecisionID] {
		return false, nil
	}
	seen[a.DecisionID] = true
	r.actions[a.CaseID] = append(r.actions[a.CaseID], a)
	return true, nil
}

func (r *MemRepository) ListActions(ctx context.Context, caseID string) ([]Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Action(nil), r.actions[caseID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemRepository) AppendAudit(ctx context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID != "" && r.audited[e.ID] {
		return nil
	}
	r.audited[e.ID] = true
	r.audit = append(r.audit, e)
	return nil
}

func (r *MemRepository) ListAudit(ctx context.Context, groupID string, after time.Time, limit int) ([]AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditEntry
	for _, e := range r.audit {
		if groupID != "" && e.GroupID != groupID {
			continue
		}
		if !after.IsZero() && !e.CreatedAt.After(after) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemRepository) CreateAppeal(ctx context.Context, a *Appeal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[a.CaseID]; !ok {
		return ErrNotFound
	}
	cp := *a
	r.appeals[a.ID] = &cp
	return nil
}

func (r *MemRepository) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appeals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemRepository) UpdateAppeal(ctx context.Context, id string, status AppealStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appeals[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if note != "" {
		a.Note = note
	}
	return nil
}

// findActive returns the active case for a subject. Callers hold the
// mutex.
func (r *MemRepository) findActive(subjectType SubjectType, subjectID string) *Case {
	for _, c := range r.cases {
		if c.SubjectType == subjectType && c.SubjectID == subjectID && c.Status.Active() {
			return c
		}
	}
	return nil
}
