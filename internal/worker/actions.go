package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/guard"
	"github.com/modpipe/modpipe/internal/policy"
	"github.com/modpipe/modpipe/internal/stream"
)

// defaultMuteDuration applies when a mute decision carries no explicit
// duration in its payload.
const defaultMuteDuration = 24 * time.Hour

// Dedupe guards side effects against redelivered messages. Seen reports
// whether a key was already marked; Mark records it only after the
// guarded work landed, so a failure before Mark retries on redelivery
// instead of being silently dropped.
type Dedupe interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemDedupe is the process-local dedupe set.
type MemDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

var _ Dedupe = (*MemDedupe)(nil)

func NewMemDedupe() *MemDedupe {
	return &MemDedupe{seen: make(map[string]bool)}
}

func (d *MemDedupe) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *MemDedupe) Mark(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

// RedisDedupe shares the dedupe set across processes via keys with a
// retention TTL.
type RedisDedupe struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ Dedupe = (*RedisDedupe)(nil)

func (d *RedisDedupe) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDedupe) Mark(ctx context.Context, key string) error {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return d.Client.Set(ctx, key, "1", ttl).Err()
}

// SubjectResolver maps a subject to its owning user, so user-level
// effects (mute, ban) land on the author of an offending post.
type SubjectResolver interface {
	ResolveOwner(ctx context.Context, subjectType casefile.SubjectType, subjectID string) (string, error)
}

// IdentityResolver treats user subjects as their own owners and gives up
// on everything else. Deployments embed a real lookup against their
// content store.
type IdentityResolver struct{}

func (IdentityResolver) ResolveOwner(ctx context.Context, subjectType casefile.SubjectType, subjectID string) (string, error) {
	if subjectType == casefile.SubjectUser {
		return subjectID, nil
	}
	return "", fmt.Errorf("no owner mapping for %s/%s", subjectType, subjectID)
}

// Effector applies content-level enforcement (hide, remove, tombstone)
// against the platform's content store.
type Effector interface {
	Apply(ctx context.Context, ev casefile.DecisionEvent) error
}

// Notifier tells the moderation team about events that need human eyes.
type Notifier interface {
	NotifyDecision(ctx context.Context, ev casefile.DecisionEvent) error
}

// ActionsWorker consumes decision events and applies their side effects:
// content enforcement, user mutes, and moderator notification for
// escalations. Effects are idempotent per decision id, so stream
// redeliveries are harmless.
type ActionsWorker struct {
	Stream   stream.Stream
	Dedupe   Dedupe
	Effector Effector
	Mutes    guard.MuteRepository
	Resolver SubjectResolver
	Notifier Notifier
	Logger   *slog.Logger

	StreamName string
	Group      string
	Consumer   string
	BatchSize  int
	Block      time.Duration
}

func (w *ActionsWorker) Name() string { return "actions" }

func (w *ActionsWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := w.Stream.Fetch(ctx, w.StreamName, w.Group, w.Consumer, w.BatchSize, w.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetching decision batch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		start := time.Now()
		for _, msg := range msgs {
			if err := w.process(ctx, msg); err != nil {
				processErrors.WithLabelValues(w.Name()).Inc()
				w.Logger.Error("decision event failed, leaving unacked",
					"message_id", msg.ID,
					"error", err)
				continue
			}
			if err := w.Stream.Ack(ctx, w.StreamName, w.Group, msg.ID); err != nil {
				w.Logger.Error("ack failed", "message_id", msg.ID, "error", err)
			}
		}
		batchDuration.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())
	}
}

func (w *ActionsWorker) process(ctx context.Context, msg stream.Message) error {
	var ev casefile.DecisionEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		w.Logger.Warn("dropping undecodable decision event",
			"message_id", msg.ID,
			"error", err)
		return nil
	}

	key := "effect/" + ev.DecisionID
	seen, err := w.Dedupe.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("checking dedupe for %s: %w", ev.DecisionID, err)
	}
	if seen {
		w.Logger.Debug("decision effects already applied", "decision_id", ev.DecisionID)
		return nil
	}

	if w.Effector != nil {
		if err := w.Effector.Apply(ctx, ev); err != nil {
			return fmt.Errorf("applying content effect for %s: %w", ev.DecisionID, err)
		}
	}

	switch ev.Decision.Action {
	case policy.ActionMute, policy.ActionBan:
		if err := w.muteOwner(ctx, ev); err != nil {
			return err
		}
	}

	if ev.Escalated && w.Notifier != nil {
		if err := w.Notifier.NotifyDecision(ctx, ev); err != nil {
			// notification is best effort, never blocks the pipeline
			w.Logger.Warn("decision notification failed",
				"decision_id", ev.DecisionID,
				"error", err)
		}
	}

	// marked only after the effects landed; a failure above leaves the
	// key unset so the redelivered event retries the work
	if err := w.Dedupe.Mark(ctx, key); err != nil {
		w.Logger.Warn("dedupe mark failed",
			"decision_id", ev.DecisionID,
			"error", err)
	}

	w.Logger.Info("decision effects applied",
		"decision_id", ev.DecisionID,
		"case_id", ev.CaseID,
		"action", ev.Decision.Action)
	return nil
}

func (w *ActionsWorker) muteOwner(ctx context.Context, ev casefile.DecisionEvent) error {
	if w.Mutes == nil || w.Resolver == nil {
		return nil
	}
	owner, err := w.Resolver.ResolveOwner(ctx, ev.SubjectType, ev.SubjectID)
	if err != nil {
		w.Logger.Warn("cannot resolve subject owner for mute",
			"decision_id", ev.DecisionID,
			"subject_type", ev.SubjectType,
			"subject_id", ev.SubjectID,
			"error", err)
		return nil
	}
	until := time.Now().Add(muteDuration(ev.Decision.Payload))
	if err := w.Mutes.Mute(ctx, owner, until); err != nil {
		return fmt.Errorf("muting %s: %w", owner, err)
	}
	return nil
}

func muteDuration(payload map[string]any) time.Duration {
	if payload != nil {
		if secs, ok := payload["mute_seconds"].(float64); ok && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultMuteDuration
}
