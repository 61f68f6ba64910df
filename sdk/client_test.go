package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCase(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cases/case-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(CaseDetail{
			CaseID:      "case-1",
			SubjectType: "post",
			SubjectID:   "p1",
			Status:      "open",
			Severity:    2,
			Actions:     []Action{{DecisionID: "dec-1", Name: "flag"}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	detail, err := c.GetCase(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, "open", detail.Status)
	require.Len(t, detail.Actions, 1)
	assert.Equal(t, "flag", detail.Actions[0].Name)
}

func TestGetCaseNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "case_not_found"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	_, err := c.GetCase(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "case_not_found", apiErr.Code)
}

func TestListAuditSendsActorHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mod1", r.Header.Get("X-Actor-ID"))
		assert.Equal(t, "g1", r.URL.Query().Get("group"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []AuditEntry{{ID: "a1", Action: "remove"}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "mod1")
	entries, err := c.ListAudit(context.Background(), "g1", time.Time{}, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remove", entries[0].Action)
}

func TestDryRunPolicy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/policy/dry-run", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(50), req["trust_score"])
		_ = json.NewEncoder(w).Encode(Decision{
			Status:  "blocked",
			Action:  "remove",
			Reasons: []string{"hate_hard"},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	dec, err := c.DryRunPolicy(context.Background(), map[string]any{"hate": 0.99}, 50)
	require.NoError(t, err)
	assert.Equal(t, "blocked", dec.Status)
	assert.Equal(t, []string{"hate_hard"}, dec.Reasons)
}

func TestCheckCreate(t *testing.T) {
	denyNext := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/guard/check", r.URL.Path)
		if denyNext {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "slow_down"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	denial, err := c.CheckCreate(context.Background(), "u1", "post")
	require.NoError(t, err)
	assert.Nil(t, denial)

	denyNext = true
	denial, err = c.CheckCreate(context.Background(), "u1", "post")
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, "slow_down", denial.Code)
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
}
