// Package dashboard serves the ops HTTP API: case lookups, audit
// queries, policy dry-runs, and pipeline stats.
package dashboard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/guard"
	"github.com/modpipe/modpipe/internal/policy"
)

// actorHeader carries the authenticated actor id set by the fronting
// auth proxy.
const actorHeader = "X-Actor-ID"

// StatsFunc collects the current pipeline stats snapshot. The server
// caches it; collectors can hit storage freely.
type StatsFunc func() (map[string]any, error)

// Server is the ops API server.
type Server struct {
	repo     casefile.Repository
	enforcer *casefile.Enforcer
	policies *policy.Provider
	guard    *guard.CreateGuard
	stats    *statsCache
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(repo casefile.Repository, enforcer *casefile.Enforcer, policies *policy.Provider, g *guard.CreateGuard, stats StatsFunc, logger *slog.Logger) *Server {
	s := &Server{
		repo:     repo,
		enforcer: enforcer,
		policies: policies,
		guard:    g,
		stats:    newStatsCache(stats, 5*time.Second),
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/cases/{id}", s.handleCaseDetail)
	s.mux.HandleFunc("GET /api/audit", s.handleAudit)
	s.mux.HandleFunc("POST /api/policy/dry-run", s.handleDryRun)
	s.mux.HandleFunc("POST /api/guard/check", s.handleGuardCheck)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/appeals", s.handleFileAppeal)
	s.mux.HandleFunc("GET /api/appeals/{id}", s.handleGetAppeal)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}
