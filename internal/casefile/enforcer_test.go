package casefile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modpipe/modpipe/internal/policy"
)

type capturePublisher struct {
	events []DecisionEvent
	fail   bool
}

func (p *capturePublisher) PublishDecision(ctx context.Context, ev DecisionEvent) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}

type staticRoles struct {
	moderators map[string]bool
}

func (r *staticRoles) IsModerator(ctx context.Context, actorID, groupID string) (bool, error) {
	return r.moderators[actorID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reviewDecision() policy.Decision {
	return policy.Decision{
		Status:   policy.StatusNeedsReview,
		Action:   policy.ActionFlag,
		Severity: policy.SeverityReviewMedium,
		Level:    policy.LevelMedium,
		Reasons:  []string{"profanity"},
		Payload:  map[string]any{"total": 0.8, "policy_id": "default"},
	}
}

func blockDecision() policy.Decision {
	return policy.Decision{
		Status:   policy.StatusBlocked,
		Action:   policy.ActionRemove,
		Severity: policy.SeverityBlocked,
		Reasons:  []string{"hate_hard"},
	}
}

func TestApplyOpensCaseAndPublishes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	pub := &capturePublisher{}
	e := NewEnforcer(repo, pub, nil, testLogger())

	c, err := e.Apply(ctx, SubjectPost, "post-1", reviewDecision(), "dec-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, policy.SeverityReviewMedium, c.Severity)
	assert.Equal(t, "default", c.PolicyID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "dec-1", pub.events[0].DecisionID)
	assert.Equal(t, c.ID, pub.events[0].CaseID)
	assert.False(t, pub.events[0].Escalated)

	actions, err := repo.ListActions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, policy.ActionFlag, actions[0].Name)
	assert.Nil(t, actions[0].ActorID, "automatic action has no actor")
}

func TestApplyAllowIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	e := NewEnforcer(repo, nil, nil, testLogger())

	c, err := e.Apply(ctx, SubjectPost, "post-1", policy.Decision{
		Status: policy.StatusAllowed,
		Action: policy.ActionAllow,
	}, "dec-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = repo.GetOpenCase(ctx, SubjectPost, "post-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyReusesOpenCase(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	e := NewEnforcer(repo, &capturePublisher{}, nil, testLogger())

	first, err := e.Apply(ctx, SubjectPost, "post-1", reviewDecision(), "dec-1")
	require.NoError(t, err)
	second, err := e.Apply(ctx, SubjectPost, "post-1", reviewDecision(), "dec-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	actions, err := repo.ListActions(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestApplyEscalatesHighSeverity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	pub := &capturePublisher{}
	e := NewEnforcer(repo, pub, nil, testLogger())

	// medium review opens the case
	c, err := e.Apply(ctx, SubjectUser, "u1", reviewDecision(), "dec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, c.Status)

	// a hard block on the same subject escalates it
	c, err = e.Apply(ctx, SubjectUser, "u1", blockDecision(), "dec-2")
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, c.Status)
	assert.Equal(t, policy.SeverityBlocked, c.Severity)
	assert.True(t, pub.events[1].Escalated)
}

func TestApplySeverityMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	e := NewEnforcer(repo, nil, nil, testLogger())

	c, err := e.Apply(ctx, SubjectPost, "p1", blockDecision(), "dec-1")
	require.NoError(t, err)
	assert.Equal(t, policy.SeverityBlocked, c.Severity)

	// a later lower-severity decision never lowers the case
	c, err = e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-2")
	require.NoError(t, err)
	assert.Equal(t, policy.SeverityBlocked, c.Severity)
	assert.Equal(t, StatusEscalated, c.Status)
}

func TestApplyRedeliveryKeepsRecordsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	pub := &capturePublisher{}
	e := NewEnforcer(repo, pub, nil, testLogger())

	first, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.NoError(t, err)

	// same decision id redelivered after a crash between persist and ack
	again, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	actions, err := repo.ListActions(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "one action despite redelivery")

	audit, err := repo.ListAudit(ctx, "", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, audit, 1, "one audit entry despite redelivery")

	// publish is at-least-once; the actions worker dedupes on decision id
	assert.Len(t, pub.events, 2)
	assert.Equal(t, pub.events[0].DecisionID, pub.events[1].DecisionID)
}

func TestApplyPublishFailurePropagates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	pub := &capturePublisher{fail: true}
	e := NewEnforcer(repo, pub, nil, testLogger())

	_, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.Error(t, err)

	// the action is already durable; the redelivered retry republishes
	// the event that never reached the stream
	pub.fail = false
	c, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.NoError(t, err)
	actions, err := repo.ListActions(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
	require.Len(t, pub.events, 1, "retry delivers the lost event")
	assert.Equal(t, "dec-1", pub.events[0].DecisionID)
}

// flakyAuditRepo fails the first AppendAudit to model a store outage
// between the action append and the audit write.
type flakyAuditRepo struct {
	*MemRepository
	failures int
}

func (r *flakyAuditRepo) AppendAudit(ctx context.Context, e AuditEntry) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("audit store down")
	}
	return r.MemRepository.AppendAudit(ctx, e)
}

func TestApplyAuditFailureRetriedOnRedelivery(t *testing.T) {
	ctx := context.Background()
	repo := &flakyAuditRepo{MemRepository: NewMemRepository(), failures: 1}
	pub := &capturePublisher{}
	e := NewEnforcer(repo, pub, nil, testLogger())

	_, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.Error(t, err)
	assert.Empty(t, pub.events, "nothing published before the audit lands")

	// the redelivered retry completes the audit trail and the publish
	c, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.NoError(t, err)

	audit, err := repo.ListAudit(ctx, "", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "dec-1", audit[0].Meta["decision_id"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, "dec-1", pub.events[0].DecisionID)

	actions, err := repo.ListActions(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "retry never double-acts")
}

func TestResolveRequiresModerator(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	roles := &staticRoles{moderators: map[string]bool{"mod1": true}}
	e := NewEnforcer(repo, nil, roles, testLogger())

	c, err := e.Apply(ctx, SubjectPost, "p1", reviewDecision(), "dec-1")
	require.NoError(t, err)

	_, err = e.Resolve(ctx, c.ID, StatusDismissed, "rando", "g1")
	assert.ErrorIs(t, err, ErrForbidden)

	resolved, err := e.Resolve(ctx, c.ID, StatusDismissed, "mod1", "g1")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, resolved.Status)

	// terminal cases reject further transitions
	_, err = e.Resolve(ctx, c.ID, StatusActioned, "mod1", "g1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListGroupAuditForbidden(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	roles := &staticRoles{moderators: map[string]bool{"mod1": true}}
	e := NewEnforcer(repo, nil, roles, testLogger())

	_, err := e.ListGroupAudit(ctx, "rando", "g1", time.Time{}, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.ListGroupAudit(ctx, "mod1", "g1", time.Time{}, 10)
	assert.NoError(t, err)
}

func TestAppealFlow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	roles := &staticRoles{moderators: map[string]bool{"mod1": true}}
	e := NewEnforcer(repo, nil, roles, testLogger())

	c, err := e.Apply(ctx, SubjectPost, "p1", blockDecision(), "dec-1")
	require.NoError(t, err)

	a, err := e.FileAppeal(ctx, c.ID, "this was satire")
	require.NoError(t, err)

	err = e.ResolveAppeal(ctx, a.ID, AppealAccepted, "restored", "rando", "")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, e.ResolveAppeal(ctx, a.ID, AppealAccepted, "restored", "mod1", ""))
	got, err := repo.GetAppeal(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AppealAccepted, got.Status)
}

func TestDecisionPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository()
	e := NewEnforcer(repo, nil, nil, testLogger())

	dec := reviewDecision()
	dec.Payload = map[string]any{"total": 1.4, "signals": "profanity,excessive_links"}

	c, err := e.Apply(ctx, SubjectComment, "c1", dec, "dec-1")
	require.NoError(t, err)

	actions, err := repo.ListActions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dec.Payload, actions[0].Payload)
	assert.Equal(t, "dec-1", actions[0].DecisionID)
}
