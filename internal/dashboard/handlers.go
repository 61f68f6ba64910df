package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/guard"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

type caseDetail struct {
	casefile.Case
	Actions []casefile.Action `json:"actions"`
}

func (s *Server) handleCaseDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.repo.GetCase(r.Context(), id)
	if errors.Is(err, casefile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case_not_found")
		return
	}
	if err != nil {
		s.logger.Error("case lookup failed", "case_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	actions, err := s.repo.ListActions(r.Context(), id)
	if err != nil {
		s.logger.Error("action list failed", "case_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, caseDetail{Case: *c, Actions: actions})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get(actorHeader)
	group := r.URL.Query().Get("group")

	var after time.Time
	if v := r.URL.Query().Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_after")
			return
		}
		after = t
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = n
	}

	entries, err := s.enforcer.ListGroupAudit(r.Context(), actor, group, after, limit)
	if errors.Is(err, casefile.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		s.logger.Error("audit query failed", "group", group, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if entries == nil {
		entries = []casefile.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type dryRunRequest struct {
	Signals    map[string]any `json:"signals"`
	TrustScore int            `json:"trust_score"`
}

// handleDryRun evaluates the live policy tables against caller-supplied
// signals without touching cases, trust, or streams. Moderators use it
// to preview threshold changes.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body")
		return
	}
	dec := s.policies.Current().Evaluate(req.Signals, req.TrustScore)
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Get()
	if err != nil {
		s.logger.Error("stats collection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type guardCheckRequest struct {
	UserID      string `json:"user_id"`
	SubjectType string `json:"subject_type"`
}

// handleGuardCheck runs the pre-publish admission gate for one create
// attempt. 204 admits; denials map the guard's status code and carry
// its stable denial code.
func (s *Server) handleGuardCheck(w http.ResponseWriter, r *http.Request) {
	var req guardCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.SubjectType == "" {
		writeError(w, http.StatusBadRequest, "bad_body")
		return
	}
	err := s.guard.Enforce(r.Context(), req.UserID, req.SubjectType)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var denied *guard.Denied
	if errors.As(err, &denied) {
		writeJSON(w, denied.StatusCode, denied)
		return
	}
	s.logger.Error("guard check failed", "user_id", req.UserID, "error", err)
	writeError(w, http.StatusInternalServerError, "internal")
}

type fileAppealRequest struct {
	CaseID string `json:"case_id"`
	Note   string `json:"note"`
}

func (s *Server) handleFileAppeal(w http.ResponseWriter, r *http.Request) {
	var req fileAppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CaseID == "" {
		writeError(w, http.StatusBadRequest, "bad_body")
		return
	}
	a, err := s.enforcer.FileAppeal(r.Context(), req.CaseID, req.Note)
	if errors.Is(err, casefile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case_not_found")
		return
	}
	if err != nil {
		s.logger.Error("appeal filing failed", "case_id", req.CaseID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAppeal(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAppeal(r.Context(), r.PathValue("id"))
	if errors.Is(err, casefile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "appeal_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
