package casefile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modpipe/modpipe/internal/policy"
)

// EscalationThreshold is the decision severity at or above which a case
// is escalated for priority human review.
const EscalationThreshold = 4

// systemActor labels automatic entries in the audit log.
const systemActor = "system"

// Publisher delivers decision events to downstream consumers. Publish
// failures propagate out of Apply so the stream message stays unacked
// and redelivers; delivery is at-least-once and consumers dedupe on
// decision id.
type Publisher interface {
	PublishDecision(ctx context.Context, ev DecisionEvent) error
}

// RoleResolver answers whether an actor holds the moderator role for a
// group. Empty groupID means site-wide.
type RoleResolver interface {
	IsModerator(ctx context.Context, actorID, groupID string) (bool, error)
}

// DecisionEvent is the record published after a decision is durably
// applied to a case.
type DecisionEvent struct {
	DecisionID  string          `json:"decision_id"`
	CaseID      string          `json:"case_id"`
	SubjectType SubjectType     `json:"subject_type"`
	SubjectID   string          `json:"subject_id"`
	Decision    policy.Decision `json:"decision"`
	Escalated   bool            `json:"escalated"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Enforcer applies policy decisions to case records and keeps the audit
// trail. It is the only writer of automatic case mutations.
type Enforcer struct {
	repo      Repository
	publisher Publisher
	roles     RoleResolver
	logger    *slog.Logger
	now       func() time.Time
}

func NewEnforcer(repo Repository, publisher Publisher, roles RoleResolver, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		repo:      repo,
		publisher: publisher,
		roles:     roles,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply records an actionable decision against a subject. It finds or
// opens the subject's case, raises severity monotonically, escalates
// when the decision severity crosses the threshold, appends the action
// keyed by decision id, writes the audit entry, and publishes the
// decision event. Every step is idempotent per decision id, so a
// redelivered decision converges on one action and one audit entry even
// when the first attempt died between the action append and the
// publish. The publish itself is at-least-once; downstream consumers
// dedupe on decision id.
func (e *Enforcer) Apply(ctx context.Context, subjectType SubjectType, subjectID string, dec policy.Decision, decisionID string) (*Case, error) {
	if !dec.Actionable() {
		return nil, nil
	}
	now := e.now().UTC()

	c, err := e.repo.CreateCase(ctx, &Case{
		ID:          uuid.New().String(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Status:      StatusOpen,
		Severity:    dec.Severity,
		PolicyID:    decisionPolicyID(dec),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("opening case: %w", err)
	}

	changed := c.RaiseSeverity(dec.Severity, now)
	escalated := false
	if dec.Severity >= EscalationThreshold && c.Status == StatusOpen {
		if err := c.Transition(StatusEscalated, now); err != nil {
			return nil, err
		}
		changed = true
		escalated = true
	}
	if changed {
		if err := e.repo.UpdateCase(ctx, c.ID, c.Status, c.Severity, now); err != nil {
			return nil, fmt.Errorf("updating case %s: %w", c.ID, err)
		}
	}

	inserted, err := e.repo.AppendAction(ctx, Action{
		CaseID:     c.ID,
		DecisionID: decisionID,
		Name:       dec.Action,
		Payload:    dec.Payload,
		ActorID:    nil,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("appending action to case %s: %w", c.ID, err)
	}

	// The audit id is derived from the decision id, so a replay of a
	// decision whose first attempt failed after the action append still
	// lands exactly one audit entry.
	if err := e.repo.AppendAudit(ctx, AuditEntry{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte("audit/"+decisionID)).String(),
		ActorID:    systemActor,
		Action:     dec.Action,
		TargetType: string(subjectType),
		TargetID:   subjectID,
		Meta: map[string]any{
			"decision_id": decisionID,
			"case_id":     c.ID,
			"status":      dec.Status,
			"severity":    dec.Severity,
			"reasons":     strings.Join(dec.Reasons, ","),
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}

	if inserted {
		e.logger.Info("decision applied",
			"decision_id", decisionID,
			"case_id", c.ID,
			"subject_type", subjectType,
			"subject_id", subjectID,
			"action", dec.Action,
			"severity", dec.Severity,
			"escalated", escalated)
	} else {
		e.logger.Debug("decision replayed, completing side effects",
			"decision_id", decisionID,
			"case_id", c.ID)
	}

	if e.publisher != nil {
		ev := DecisionEvent{
			DecisionID:  decisionID,
			CaseID:      c.ID,
			SubjectType: subjectType,
			SubjectID:   subjectID,
			Decision:    dec,
			Escalated:   escalated,
			OccurredAt:  now,
		}
		if err := e.publisher.PublishDecision(ctx, ev); err != nil {
			return nil, fmt.Errorf("publishing decision %s: %w", decisionID, err)
		}
	}
	return c, nil
}

// Resolve closes a case by moderator action, recording who acted.
func (e *Enforcer) Resolve(ctx context.Context, caseID string, next CaseStatus, actorID, groupID string) (*Case, error) {
	if err := e.requireModerator(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	c, err := e.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if err := c.Transition(next, now); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateCase(ctx, c.ID, c.Status, c.Severity, now); err != nil {
		return nil, fmt.Errorf("updating case %s: %w", c.ID, err)
	}
	if err := e.repo.AppendAudit(ctx, AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		Action:     "case_" + string(next),
		TargetType: string(c.SubjectType),
		TargetID:   c.SubjectID,
		GroupID:    groupID,
		Meta:       map[string]any{"case_id": c.ID},
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}
	e.logger.Info("case resolved",
		"case_id", c.ID,
		"status", next,
		"actor_id", actorID)
	return c, nil
}

// ListGroupAudit returns a group's audit trail. Only moderators of the
// group (or site moderators, via empty groupID grants) may read it.
func (e *Enforcer) ListGroupAudit(ctx context.Context, actorID, groupID string, after time.Time, limit int) ([]AuditEntry, error) {
	if err := e.requireModerator(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	return e.repo.ListAudit(ctx, groupID, after, limit)
}

// FileAppeal opens an appeal against an existing case.
func (e *Enforcer) FileAppeal(ctx context.Context, caseID, note string) (*Appeal, error) {
	a := &Appeal{
		ID:     uuid.New().String(),
		CaseID: caseID,
		Status: AppealOpen,
		Note:   note,
	}
	if err := e.repo.CreateAppeal(ctx, a); err != nil {
		return nil, err
	}
	e.logger.Info("appeal filed", "appeal_id", a.ID, "case_id", caseID)
	return a, nil
}

// ResolveAppeal records a moderator verdict on an appeal.
func (e *Enforcer) ResolveAppeal(ctx context.Context, appealID string, status AppealStatus, note, actorID, groupID string) error {
	if err := e.requireModerator(ctx, actorID, groupID); err != nil {
		return err
	}
	if err := e.repo.UpdateAppeal(ctx, appealID, status, note); err != nil {
		return err
	}
	e.logger.Info("appeal resolved", "appeal_id", appealID, "status", status, "actor_id", actorID)
	return nil
}

// decisionPolicyID pulls the policy id the engine stamps into the
// decision payload, so the case records which tables produced it.
func decisionPolicyID(dec policy.Decision) string {
	if dec.Payload == nil {
		return ""
	}
	id, _ := dec.Payload["policy_id"].(string)
	return id
}

func (e *Enforcer) requireModerator(ctx context.Context, actorID, groupID string) error {
	if e.roles == nil {
		return nil
	}
	ok, err := e.roles.IsModerator(ctx, actorID, groupID)
	if err != nil {
		return fmt.Errorf("resolving role for %s: %w", actorID, err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
