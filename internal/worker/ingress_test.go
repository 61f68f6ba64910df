package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/countstore"
	"github.com/modpipe/modpipe/internal/detector"
	"github.com/modpipe/modpipe/internal/policy"
	"github.com/modpipe/modpipe/internal/stream"
	"github.com/modpipe/modpipe/internal/textstore"
	"github.com/modpipe/modpipe/internal/trust"
)

type ingressHarness struct {
	worker *IngressWorker
	stream *stream.MemStream
	repo   *casefile.MemRepository
	trust  *trust.Ledger
}

func newIngressHarness(t *testing.T) *ingressHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pol, err := policy.Load("")
	require.NoError(t, err)

	ms := stream.NewMemStream()
	repo := casefile.NewMemRepository()
	ledger := trust.NewLedger(trust.NewMemRepository(), 0, 100, 50)

	suite := &detector.Suite{
		Profanity: detector.NewProfanityDetector(nil),
		Links:     detector.NewLinkSafetyDetector(nil, 5),
		Dup:       detector.NewDuplicateTextDetector(textstore.NewMemTextStore(5*time.Minute), 3),
		Velocity:  detector.NewVelocityDetector(countstore.NewMemCountStore(time.Minute), map[string]int{"post": 10}, 20),
		Logger:    logger,
	}

	enforcer := casefile.NewEnforcer(repo, &StreamPublisher{Stream: ms, Name: "decisions"}, nil, logger)

	return &ingressHarness{
		worker: &IngressWorker{
			Stream:     ms,
			Suite:      suite,
			Policies:   policy.NewProvider(pol),
			Enforcer:   enforcer,
			Trust:      ledger,
			Dedupe:     NewMemDedupe(),
			Deltas:     map[string]int{"positive": 1, "policy_violation": -5, "severe_violation": -10},
			Logger:     logger,
			StreamName: "ingress",
			Group:      "workers",
			Consumer:   "c1",
			BatchSize:  16,
			Block:      10 * time.Millisecond,
		},
		stream: ms,
		repo:   repo,
		trust:  ledger,
	}
}

func publishEvent(t *testing.T, s stream.Stream, ev IngressEvent) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, s.Publish(context.Background(), "ingress", body))
}

func TestIngressBlocksHatefulEvent(t *testing.T) {
	ctx := context.Background()
	h := newIngressHarness(t)

	publishEvent(t, h.stream, IngressEvent{
		EventID:     "ev-1",
		ActorID:     "u1",
		SubjectType: "post",
		SubjectID:   "p1",
		Text:        "whatever",
		Scores:      map[string]float64{"hate": 0.99},
	})

	msgs, err := h.stream.Fetch(ctx, "ingress", "workers", "c1", 16, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, h.worker.process(ctx, msgs[0]))

	c, err := h.repo.GetOpenCase(ctx, casefile.SubjectPost, "p1")
	require.NoError(t, err)
	assert.Equal(t, casefile.StatusEscalated, c.Status)
	assert.Equal(t, policy.SeverityBlocked, c.Severity)

	// a decision event landed on the downstream stream
	assert.Equal(t, 1, h.stream.Len("decisions"))

	// severe violation costs trust
	score, err := h.trust.Hydrate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, score)
}

func TestIngressAllowsCleanEvent(t *testing.T) {
	ctx := context.Background()
	h := newIngressHarness(t)

	publishEvent(t, h.stream, IngressEvent{
		EventID:     "ev-1",
		ActorID:     "u1",
		SubjectType: "post",
		SubjectID:   "p1",
		Text:        "lovely weather today",
	})

	msgs, err := h.stream.Fetch(ctx, "ingress", "workers", "c1", 16, 0)
	require.NoError(t, err)
	require.NoError(t, h.worker.process(ctx, msgs[0]))

	_, err = h.repo.GetOpenCase(ctx, casefile.SubjectPost, "p1")
	assert.ErrorIs(t, err, casefile.ErrNotFound)
	assert.Equal(t, 0, h.stream.Len("decisions"))

	// clean events earn trust back
	score, err := h.trust.Hydrate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 51, score)
}

func TestIngressRedeliveryNoDuplicateEffects(t *testing.T) {
	ctx := context.Background()
	h := newIngressHarness(t)

	publishEvent(t, h.stream, IngressEvent{
		EventID:     "ev-1",
		ActorID:     "u1",
		SubjectType: "post",
		SubjectID:   "p1",
		Scores:      map[string]float64{"hate": 0.99},
	})

	msgs, err := h.stream.Fetch(ctx, "ingress", "workers", "c1", 16, 0)
	require.NoError(t, err)
	require.NoError(t, h.worker.process(ctx, msgs[0]))

	// crash before ack: the same message comes back
	h.stream.Redeliver("ingress")
	again, err := h.stream.Fetch(ctx, "ingress", "workers", "c2", 16, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.NoError(t, h.worker.process(ctx, again[0]))

	c, err := h.repo.GetOpenCase(ctx, casefile.SubjectPost, "p1")
	require.NoError(t, err)
	actions, err := h.repo.ListActions(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "redelivery must not append a second action")

	// the severe violation costs trust exactly once
	score, err := h.trust.Hydrate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, score)
}

func TestIngressRedeliveryAdjustsTrustOnce(t *testing.T) {
	ctx := context.Background()
	h := newIngressHarness(t)

	publishEvent(t, h.stream, IngressEvent{
		EventID:     "ev-1",
		ActorID:     "u1",
		SubjectType: "post",
		SubjectID:   "p1",
		Text:        "lovely weather today",
	})

	msgs, err := h.stream.Fetch(ctx, "ingress", "workers", "c1", 16, 0)
	require.NoError(t, err)
	require.NoError(t, h.worker.process(ctx, msgs[0]))

	// ack lost: the clean event comes back and must not earn trust again
	h.stream.Redeliver("ingress")
	again, err := h.stream.Fetch(ctx, "ingress", "workers", "c2", 16, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.NoError(t, h.worker.process(ctx, again[0]))

	score, err := h.trust.Hydrate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 51, score)
}

func TestIngressDropsPoisonMessage(t *testing.T) {
	ctx := context.Background()
	h := newIngressHarness(t)

	require.NoError(t, h.stream.Publish(ctx, "ingress", []byte("{not json")))
	msgs, err := h.stream.Fetch(ctx, "ingress", "workers", "c1", 16, 0)
	require.NoError(t, err)

	// poison messages are dropped, not retried forever
	assert.NoError(t, h.worker.process(ctx, msgs[0]))
}

func TestIngressRunLoopAcks(t *testing.T) {
	h := newIngressHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	publishEvent(t, h.stream, IngressEvent{
		EventID:     "ev-1",
		ActorID:     "u1",
		SubjectType: "post",
		SubjectID:   "p1",
		Scores:      map[string]float64{"hate": 0.99},
	})

	require.Eventually(t, func() bool {
		return h.stream.Len("ingress") == 0
	}, 2*time.Second, 10*time.Millisecond, "message should be processed and acked")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
