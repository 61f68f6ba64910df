package casefile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseTransitions(t *testing.T) {
	tests := []struct {
		from CaseStatus
		to   CaseStatus
		ok   bool
	}{
		{StatusOpen, StatusActioned, true},
		{StatusOpen, StatusDismissed, true},
		{StatusOpen, StatusEscalated, true},
		{StatusEscalated, StatusActioned, true},
		{StatusEscalated, StatusDismissed, true},
		{StatusEscalated, StatusOpen, false},
		{StatusActioned, StatusOpen, false},
		{StatusActioned, StatusEscalated, false},
		{StatusDismissed, StatusActioned, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionFailureLeavesCaseUntouched(t *testing.T) {
	now := time.Now().UTC()
	c := &Case{Status: StatusActioned, UpdatedAt: now}

	err := c.Transition(StatusOpen, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusActioned, c.Status)
	assert.Equal(t, now, c.UpdatedAt)
}

func TestRaiseSeverityMonotonic(t *testing.T) {
	now := time.Now().UTC()
	c := &Case{Severity: 3, UpdatedAt: now}

	assert.False(t, c.RaiseSeverity(2, now.Add(time.Minute)))
	assert.Equal(t, 3, c.Severity)
	assert.Equal(t, now, c.UpdatedAt)

	assert.True(t, c.RaiseSeverity(5, now.Add(time.Minute)))
	assert.Equal(t, 5, c.Severity)
}

func TestActiveStatuses(t *testing.T) {
	assert.True(t, StatusOpen.Active())
	assert.True(t, StatusEscalated.Active())
	assert.False(t, StatusActioned.Active())
	assert.False(t, StatusDismissed.Active())
}
