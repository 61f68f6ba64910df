// Package guard implements the pre-publish admission gate: an ordered
// trust-floor, rate-limit, and mute check evaluated before content is
// created. The first failing check short-circuits with a typed denial.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Denial codes.
const (
	CodeAccountLimited   = "account_limited"
	CodeRateLimitBackend = "rate_limit_backend"
	CodeSlowDown         = "slow_down"
	CodeMuted            = "muted_until"
)

// Denied is the typed error returned when a check rejects the create.
// StatusCode maps directly onto the HTTP response.
type Denied struct {
	StatusCode int       `json:"-"`
	Code       string    `json:"code"`
	Until      time.Time `json:"until,omitempty"`
}

func (d *Denied) Error() string {
	if !d.Until.IsZero() {
		return fmt.Sprintf("create denied: %s until %s", d.Code, d.Until.Format(time.RFC3339))
	}
	return "create denied: " + d.Code
}

// TrustSource provides the caller's trust score, creating the default row
// for first-seen users.
type TrustSource interface {
	Hydrate(ctx context.Context, userID string) (int, error)
}

// RateLimiter counts creates per (user, subject type) in a fixed window.
// -1 signals a backend outage; the guard fails closed on it.
type RateLimiter interface {
	Hit(ctx context.Context, userID, subjectType string) int
}

// MuteRepository answers whether a user is muted and until when.
type MuteRepository interface {
	MutedUntil(ctx context.Context, userID string) (time.Time, error)
	Mute(ctx context.Context, userID string, until time.Time) error
}

// CreateGuard gates content creation. Checks run in a fixed order; each
// denial carries a stable code so clients can render the right prompt.
type CreateGuard struct {
	Trust      TrustSource
	Limiter    RateLimiter
	Mutes      MuteRepository
	TrustFloor int
	Ceiling    func(subjectType string) int
	Logger     *slog.Logger
	now        func() time.Time
}

func NewCreateGuard(trust TrustSource, limiter RateLimiter, mutes MuteRepository, trustFloor int, ceiling func(string) int, logger *slog.Logger) *CreateGuard {
	return &CreateGuard{
		Trust:      trust,
		Limiter:    limiter,
		Mutes:      mutes,
		TrustFloor: trustFloor,
		Ceiling:    ceiling,
		Logger:     logger,
		now:        time.Now,
	}
}

// Enforce runs the admission checks for one create attempt. A nil return
// admits the create; otherwise the error is a *Denied.
func (g *CreateGuard) Enforce(ctx context.Context, userID, subjectType string) error {
	score, err := g.Trust.Hydrate(ctx, userID)
	if err != nil {
		return fmt.Errorf("hydrating trust for %s: %w", userID, err)
	}
	if score < g.TrustFloor {
		g.Logger.Info("create denied by trust floor",
			"user_id", userID,
			"score", score)
		return &Denied{StatusCode: 429, Code: CodeAccountLimited}
	}

	count := g.Limiter.Hit(ctx, userID, subjectType)
	if count < 0 {
		// counter backend down: deny rather than letting floods through
		g.Logger.Warn("rate limit backend unavailable, denying create",
			"user_id", userID,
			"subject_type", subjectType)
		return &Denied{StatusCode: 500, Code: CodeRateLimitBackend}
	}
	if count > g.Ceiling(subjectType) {
		g.Logger.Info("create denied by rate ceiling",
			"user_id", userID,
			"subject_type", subjectType,
			"count", count)
		return &Denied{StatusCode: 429, Code: CodeSlowDown}
	}

	until, err := g.Mutes.MutedUntil(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking mute for %s: %w", userID, err)
	}
	if until.After(g.now()) {
		g.Logger.Info("create denied by mute",
			"user_id", userID,
			"until", until)
		return &Denied{StatusCode: 403, Code: CodeMuted, Until: until}
	}
	return nil
}
