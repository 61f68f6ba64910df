package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/config"
	"github.com/modpipe/modpipe/internal/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.slack.com/services/T00/B00/xxx", false},
		{"http://example.com/webhook", false},
		{"ftp://example.com/file", true},
		{"https://127.0.0.1/webhook", true},
		{"https://10.0.0.1/webhook", true},
		{"https://192.168.1.1/webhook", true},
		{"https://0x7f.0x00.0x00.0x01/webhook", true},
		{"https://2130706433/webhook", true},
		{"https://0177.0.0.1/webhook", true},
		{"not-a-url", true},
	}
	for _, tc := range tests {
		err := ValidateWebhookURL(tc.url)
		if tc.wantErr {
			assert.Error(t, err, tc.url)
		} else {
			assert.NoError(t, err, tc.url)
		}
	}
}

func TestNewWebhookNotifierSkipsInvalidURLs(t *testing.T) {
	n := NewWebhookNotifier([]config.Webhook{
		{URL: "https://valid.example.com/hook"},
		{URL: "https://127.0.0.1/bad"},
		{URL: "https://also-valid.example.com/hook"},
	}, testLogger())
	assert.Len(t, n.webhooks, 2)
}

func TestMatchesAction(t *testing.T) {
	assert.True(t, matchesAction(nil, "remove"), "no filter matches everything")
	assert.True(t, matchesAction([]string{"remove", "ban"}, "remove"))
	assert.False(t, matchesAction([]string{"ban"}, "remove"))
}

func TestNotifyDecisionDeliversPayload(t *testing.T) {
	var received DecisionPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(200)
	}))
	defer ts.Close()

	n := &WebhookNotifier{
		webhooks: []config.Webhook{{URL: ts.URL, Events: []string{"remove"}}},
		client:   ts.Client(),
		logger:   testLogger(),
	}

	ev := casefile.DecisionEvent{
		DecisionID:  "dec-1",
		CaseID:      "case-1",
		SubjectType: casefile.SubjectPost,
		SubjectID:   "p1",
		Decision: policy.Decision{
			Status:   policy.StatusBlocked,
			Action:   policy.ActionRemove,
			Severity: policy.SeverityBlocked,
			Reasons:  []string{"hate_hard"},
		},
		Escalated:  true,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.NotifyDecision(context.Background(), ev))

	assert.Equal(t, "decision", received.Event)
	assert.Equal(t, "dec-1", received.DecisionID)
	assert.Equal(t, "post", received.SubjectType)
	assert.Equal(t, "remove", received.Action)
	assert.Equal(t, []string{"hate_hard"}, received.Reasons)
	assert.True(t, received.Escalated)
	assert.Equal(t, "2026-03-01T12:00:00Z", received.Timestamp)
}

func TestNotifyDecisionSkipsFilteredActions(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(200)
	}))
	defer ts.Close()

	n := &WebhookNotifier{
		webhooks: []config.Webhook{{URL: ts.URL, Events: []string{"ban"}}},
		client:   ts.Client(),
		logger:   testLogger(),
	}
	ev := casefile.DecisionEvent{
		DecisionID: "dec-1",
		Decision:   policy.Decision{Action: policy.ActionFlag},
	}
	require.NoError(t, n.NotifyDecision(context.Background(), ev))
	assert.Zero(t, calls)
}

func TestNotifyDecisionReportsServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	n := &WebhookNotifier{
		webhooks: []config.Webhook{{URL: ts.URL}},
		client:   ts.Client(),
		logger:   testLogger(),
	}
	err := n.NotifyDecision(context.Background(), casefile.DecisionEvent{DecisionID: "dec-1"})
	assert.Error(t, err)
}
