// Package casefile owns the moderation case record: the case state
// machine, its append-only action history, the audit log, and the
// enforcer that applies policy decisions to subjects.
package casefile

import (
	"errors"
	"fmt"
	"time"
)

// Subject types a case can concern.
type SubjectType string

const (
	SubjectPost    SubjectType = "post"
	SubjectComment SubjectType = "comment"
	SubjectUser    SubjectType = "user"
	SubjectGroup   SubjectType = "group"
	SubjectEvent   SubjectType = "event"
	SubjectMessage SubjectType = "message"
)

// Case statuses. open is initial; actioned and dismissed are terminal for
// automatic processing.
type CaseStatus string

const (
	StatusOpen      CaseStatus = "open"
	StatusActioned  CaseStatus = "actioned"
	StatusDismissed CaseStatus = "dismissed"
	StatusEscalated CaseStatus = "escalated"
)

// Active reports whether the case still accepts automatic appends.
func (s CaseStatus) Active() bool {
	return s == StatusOpen || s == StatusEscalated
}

// CanTransitionTo enforces the case state machine:
// open -> {actioned, dismissed, escalated}; escalated -> {actioned, dismissed}.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusActioned || next == StatusDismissed || next == StatusEscalated
	case StatusEscalated:
		return next == StatusActioned || next == StatusDismissed
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when a case, appeal, or open-case lookup
	// misses.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor lacks the moderator role
	// required for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for a case status change the
	// state machine does not allow.
	ErrInvalidTransition = errors.New("invalid case transition")
)

// Case aggregates the moderation record for one subject. At most one case
// per subject is active at a time; a subsequent decision against the same
// subject appends to the open case instead of creating a duplicate.
type Case struct {
	ID          string      `json:"case_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	Status      CaseStatus  `json:"status"`
	Severity    int         `json:"severity"`
	PolicyID    string      `json:"policy_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Transition moves the case to the next status, or fails without
// mutating it.
func (c *Case) Transition(next CaseStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	c.UpdatedAt = at
	return nil
}

// RaiseSeverity lifts the case severity. Severity is monotonic: a lower
// incoming value leaves the case unchanged.
func (c *Case) RaiseSeverity(severity int, at time.Time) bool {
	if severity <= c.Severity {
		return false
	}
	c.Severity = severity
	c.UpdatedAt = at
	return true
}

// Action is one append-only entry in a case's history. DecisionID ties
// the action to the decision that produced it and deduplicates stream
// redeliveries. A nil ActorID means the system acted.
type Action struct {
	CaseID     string         `json:"case_id"`
	DecisionID string         `json:"decision_id"`
	Name       string         `json:"action"`
	Payload    map[string]any `json:"payload,omitempty"`
	ActorID    *string        `json:"actor_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditEntry is one append-only compliance record, independent of cases.
// GroupID scopes group-level audit queries; empty means site-wide.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	GroupID    string         `json:"group_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Appeal statuses.
type AppealStatus string

const (
	AppealOpen     AppealStatus = "open"
	AppealAccepted AppealStatus = "accepted"
	AppealRejected AppealStatus = "rejected"
)

// Appeal is a user challenge against a case. Only the record shape is
// handled here; appeal aggregation and notification are owned by the
// review tooling.
type Appeal struct {
	ID     string       `json:"appeal_id"`
	CaseID string       `json:"case_id"`
	Status AppealStatus `json:"status"`
	Note   string       `json:"note,omitempty"`
}
