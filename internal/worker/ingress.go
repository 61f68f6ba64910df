package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/detector"
	"github.com/modpipe/modpipe/internal/policy"
	"github.com/modpipe/modpipe/internal/stream"
	"github.com/modpipe/modpipe/internal/trust"
)

// IngressEvent is the wire envelope producers put on the ingress stream.
// EventID doubles as the decision id, so redeliveries of one event never
// act twice.
type IngressEvent struct {
	EventID     string             `json:"event_id"`
	ActorID     string             `json:"actor_id"`
	SubjectType string             `json:"subject_type"`
	SubjectID   string             `json:"subject_id"`
	Text        string             `json:"text,omitempty"`
	MediaKeys   []string           `json:"media_keys,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

// StreamPublisher adapts a stream to the enforcer's decision publisher.
type StreamPublisher struct {
	Stream stream.Stream
	Name   string
}

var _ casefile.Publisher = (*StreamPublisher)(nil)

func (p *StreamPublisher) PublishDecision(ctx context.Context, ev casefile.DecisionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding decision event: %w", err)
	}
	return p.Stream.Publish(ctx, p.Name, body)
}

// IngressWorker pulls content events off the ingress stream, runs the
// detector suite and policy evaluation, applies actionable decisions
// through the enforcer, and adjusts the actor's trust from the outcome.
// A message is acked only after every write landed; anything earlier
// redelivers, the enforcer's decision-id dedupe absorbs the retry, and
// the trust delta is keyed by event id so a replay never applies it
// twice.
type IngressWorker struct {
	Stream   stream.Stream
	Suite    *detector.Suite
	Policies *policy.Provider
	Enforcer *casefile.Enforcer
	Trust    *trust.Ledger
	Dedupe   Dedupe
	Deltas   map[string]int // positive, policy_violation, severe_violation
	Logger   *slog.Logger

	StreamName string
	Group      string
	Consumer   string
	BatchSize  int
	Block      time.Duration
}

func (w *IngressWorker) Name() string { return "ingress" }

func (w *IngressWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := w.Stream.Fetch(ctx, w.StreamName, w.Group, w.Consumer, w.BatchSize, w.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetching ingress batch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		start := time.Now()
		for _, msg := range msgs {
			if err := w.process(ctx, msg); err != nil {
				// leave unacked so the group redelivers it
				processErrors.WithLabelValues(w.Name()).Inc()
				w.Logger.Error("ingress event failed, leaving unacked",
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

func (w *IngressWorker) process(ctx context.Context, msg stream.Message) error {
	var ev IngressEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		// poison message: ack it away, nothing downstream can use it
		w.Logger.Warn("dropping undecodable ingress event",
			"message_id", msg.ID,
			"error", err)
		return nil
	}
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}

	score, err := w.Trust.Hydrate(ctx, ev.ActorID)
	if err != nil {
		return fmt.Errorf("hydrating trust for %s: %w", ev.ActorID, err)
	}

	signals := w.Suite.Evaluate(ctx, detector.Event{
		Text:        ev.Text,
		ActorID:     ev.ActorID,
		SubjectType: ev.SubjectType,
		SubjectID:   ev.SubjectID,
		TrustScore:  &score,
		MediaKeys:   ev.MediaKeys,
		Scores:      ev.Scores,
	})

	dec := w.Policies.Current().Evaluate(signals, score)
	eventsProcessed.WithLabelValues(dec.Status).Inc()

	if dec.Actionable() {
		if _, err := w.Enforcer.Apply(ctx, casefile.SubjectType(ev.SubjectType), ev.SubjectID, dec, ev.EventID); err != nil {
			return fmt.Errorf("applying decision for %s: %w", ev.EventID, err)
		}
		decisionsApplied.WithLabelValues(dec.Action).Inc()
	}

	if delta := w.outcomeDelta(dec); delta != 0 {
		adjusted, err := w.Dedupe.Seen(ctx, "trust/"+ev.EventID)
		if err != nil {
			return fmt.Errorf("checking trust dedupe for %s: %w", ev.EventID, err)
		}
		if !adjusted {
			if _, err := w.Trust.Adjust(ctx, ev.ActorID, delta); err != nil {
				return fmt.Errorf("adjusting trust for %s: %w", ev.ActorID, err)
			}
			if err := w.Dedupe.Mark(ctx, "trust/"+ev.EventID); err != nil {
				w.Logger.Warn("trust dedupe mark failed",
					"event_id", ev.EventID,
					"error", err)
			}
		}
	}
	return nil
}

// outcomeDelta maps the decision outcome to the configured trust delta:
// clean events earn back trust slowly, violations cost it faster.
func (w *IngressWorker) outcomeDelta(dec policy.Decision) int {
	switch {
	case dec.Severity >= casefile.EscalationThreshold:
		return w.Deltas["severe_violation"]
	case dec.Actionable():
		return w.Deltas["policy_violation"]
	default:
		return w.Deltas["positive"]
	}
}
