// Package sdk provides a Go client for the modpipe ops API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8080", "mod-alice")
//	detail, err := c.GetCase(ctx, caseID)
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// actorHeader identifies the caller to moderator-gated endpoints.
const actorHeader = "X-Actor-ID"

// CaseDetail is returned by GET /api/cases/{id}.
type CaseDetail struct {
	CaseID      string    `json:"case_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Status      string    `json:"status"`
	Severity    int       `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Actions     []Action  `json:"actions"`
}

// Action is one entry in a case's history.
type Action struct {
	DecisionID string         `json:"decision_id"`
	Name       string         `json:"action"`
	Payload    map[string]any `json:"payload,omitempty"`
	ActorID    *string        `json:"actor_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditEntry is one compliance record returned by GET /api/audit.
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

// Decision is the outcome of a policy dry-run.
type Decision struct {
	Status   string         `json:"status"`
	Action   string         `json:"action"`
	Severity int            `json:"severity"`
	Level    string         `json:"level,omitempty"`
	Reasons  []string       `json:"reasons"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("modpipe: %s (HTTP %d)", e.Code, e.StatusCode)
}

// Client talks to a modpipe ops API server.
type Client struct {
	baseURL    string
	actorID    string
	httpClient *http.Client
}

// NewClient creates an ops API client. actorID is sent on
// moderator-gated endpoints; pass "" for anonymous access.
func NewClient(baseURL, actorID string) *Client {
	return &Client{
		baseURL:    baseURL,
		actorID:    actorID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetCase fetches a case and its ordered action history.
func (c *Client) GetCase(ctx context.Context, caseID string) (*CaseDetail, error) {
	var out CaseDetail
	if err := c.do(ctx, http.MethodGet, "/api/cases/"+url.PathEscape(caseID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAudit fetches audit entries, optionally scoped to a group and a
// time cursor. Requires a moderator actor id.
func (c *Client) ListAudit(ctx context.Context, groupID string, after time.Time, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if groupID != "" {
		q.Set("group", groupID)
	}
	if !after.IsZero() {
		q.Set("after", after.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// DryRunPolicy evaluates the live policy tables against the given
// signals without side effects.
func (c *Client) DryRunPolicy(ctx context.Context, signals map[string]any, trustScore int) (*Decision, error) {
	body := map[string]any{
		"signals":     signals,
		"trust_score": trustScore,
	}
	var out Decision
	if err := c.do(ctx, http.MethodPost, "/api/policy/dry-run", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Denial describes why a create attempt was rejected by the guard.
type Denial struct {
	Code  string    `json:"code"`
	Until time.Time `json:"until,omitempty"`
}

// CheckCreate runs the pre-publish admission gate for one create
// attempt. A nil Denial admits the create.
func (c *Client) CheckCreate(ctx context.Context, userID, subjectType string) (*Denial, error) {
	body := map[string]string{
		"user_id":      userID,
		"subject_type": subjectType,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/guard/check", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &APIError{StatusCode: resp.StatusCode, Code: "bad_body"}
	default:
		var d Denial
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding denial (HTTP %d): %w", resp.StatusCode, err)
		}
		if d.Code == "" || d.Code == "internal" {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: d.Code}
		}
		return &d, nil
	}
}

// Stats fetches the pipeline stats snapshot.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the ops server health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actorID != "" {
		req.Header.Set(actorHeader, c.actorID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}
