package casefile

import (
	"context"
	"time"
)

// Repository is the case/action/audit storage contract consumed by the
// enforcer and the ops API.
//
// Implementations must serialize case creation per subject: CreateCase is
// a conditional insert that returns the already-active case when one
// exists, so concurrent workers processing the same subject never open
// duplicates. AppendAction must be idempotent on (case_id, decision_id)
// and report whether the action was newly inserted. AppendAudit must be
// idempotent on entry id, so a replayed enforcement converges on a
// single audit record.
type Repository interface {
	GetCase(ctx context.Context, id string) (*Case, error)
	GetOpenCase(ctx context.Context, subjectType SubjectType, subjectID string) (*Case, error)
	CreateCase(ctx context.Context, c *Case) (*Case, error)
	UpdateCase(ctx context.Context, id string, status CaseStatus, severity int, at time.Time) error

	AppendAction(ctx context.Context, a Action) (bool, error)
	ListActions(ctx context.Context, caseID string) ([]Action, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, groupID string, after time.Time, limit int) ([]AuditEntry, error)

	CreateAppeal(ctx context.Context, a *Appeal) error
	GetAppeal(ctx context.Context, id string) (*Appeal, error)
	UpdateAppeal(ctx context.Context, id string, status AppealStatus, note string) error
}
