package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/config"
	"github.com/modpipe/modpipe/internal/countstore"
	"github.com/modpipe/modpipe/internal/detector"
	"github.com/modpipe/modpipe/internal/guard"
	"github.com/modpipe/modpipe/internal/notify"
	"github.com/modpipe/modpipe/internal/policy"
	"github.com/modpipe/modpipe/internal/stream"
	"github.com/modpipe/modpipe/internal/textstore"
	"github.com/modpipe/modpipe/internal/trust"
	"github.com/modpipe/modpipe/internal/worker"
)

// staticRoles grants the moderator role to actor ids listed in config,
// for every group.
type staticRoles struct {
	moderators map[string]bool
}

func newStaticRoles(ids []string) *staticRoles {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &staticRoles{moderators: m}
}

func (r *staticRoles) IsModerator(ctx context.Context, actorID, groupID string) (bool, error) {
	return r.moderators[actorID], nil
}

// app holds the composed pipeline. Store backends are picked from
// config: a Redis URL switches counters, streams, mutes, and dedupe to
// shared backends; a Postgres URL switches cases and trust to Postgres,
// otherwise cases live in the embedded sqlite store.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	redis    *redis.Client // nil when running on in-memory stores
	repo     casefile.Repository
	trust    *trust.Ledger
	stream   stream.Stream
	memQueue *stream.MemStream // set when stream is the in-memory one
	guard    *guard.CreateGuard
	policies *policy.Provider
	enforcer *casefile.Enforcer
	suite    *detector.Suite
	dedupe   worker.Dedupe
	mutes    guard.MuteRepository
	notifier worker.Notifier
	started  time.Time
	closers  []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		// fall back to defaults if no config file
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, started: time.Now()}

	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading policy tables: %w", err)
	}
	a.policies = policy.NewProvider(pol)

	guardWindow := time.Duration(cfg.Guard.WindowSeconds) * time.Second

	var counts countstore.CountStore
	var texts textstore.TextStore

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		a.redis = redis.NewClient(opt)
		if _, err := a.redis.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.redis.Close() })

		counts = &countstore.RedisCountStore{Client: a.redis, Window: guardWindow}
		texts = &textstore.RedisTextStore{Client: a.redis, Window: cfg.Detectors.DupWindow()}
		a.mutes = guard.NewRedisMuteRepository(a.redis)
		a.stream = stream.NewRedisStream(a.redis)
		a.dedupe = &worker.RedisDedupe{Client: a.redis, TTL: 24 * time.Hour}
	} else {
		counts = countstore.NewMemCountStore(guardWindow)
		texts = textstore.NewMemTextStore(cfg.Detectors.DupWindow())
		a.mutes = guard.NewMemMuteRepository()
		a.memQueue = stream.NewMemStream()
		a.stream = a.memQueue
		a.dedupe = worker.NewMemDedupe()
	}

	if cfg.Postgres.URL != "" {
		caseRepo, err := casefile.NewPostgresRepository(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("opening case store: %w", err)
		}
		a.closers = append(a.closers, caseRepo.Close)
		a.repo = caseRepo

		trustRepo, err := trust.NewPostgresRepository(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("opening trust store: %w", err)
		}
		a.closers = append(a.closers, trustRepo.Close)
		a.trust = trust.NewLedger(trustRepo, cfg.Trust.Min, cfg.Trust.Max, cfg.Trust.Default)
	} else {
		caseRepo, err := casefile.NewSQLiteRepository(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening case store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = caseRepo.Close() })
		a.repo = caseRepo
		a.trust = trust.NewLedger(trust.NewMemRepository(), cfg.Trust.Min, cfg.Trust.Max, cfg.Trust.Default)
	}

	var scorer detector.ImageScorer = detector.StubScorer{}
	if cfg.Detectors.ScorerURL != "" {
		scorer = detector.NewHTTPScorer(cfg.Detectors.ScorerURL)
	}
	var ocr detector.TextExtractor = detector.StubExtractor{}
	if cfg.Detectors.OCRURL != "" {
		ocr = detector.NewHTTPExtractor(cfg.Detectors.OCRURL)
	}
	a.suite = &detector.Suite{
		Profanity:     detector.NewProfanityDetector(cfg.Detectors.Lexicon),
		Links:         detector.NewLinkSafetyDetector(cfg.Detectors.LinkDenylist, cfg.Detectors.MaxLinks),
		Dup:           detector.NewDuplicateTextDetector(texts, cfg.Detectors.DupThreshold),
		Velocity:      detector.NewVelocityDetector(counts, cfg.Detectors.VelocityLimits, cfg.Guard.DefaultCeiling),
		Scorer:        scorer,
		OCR:           ocr,
		ScorerTimeout: cfg.Detectors.ScorerTimeout(),
		Logger:        logger,
	}

	a.guard = guard.NewCreateGuard(
		a.trust,
		countstore.NewLimiter(counts),
		a.mutes,
		cfg.Guard.TrustFloor,
		cfg.Guard.Ceiling,
		logger,
	)

	if len(cfg.Webhooks) > 0 {
		a.notifier = notify.NewWebhookNotifier(cfg.Webhooks, logger)
	}

	publisher := &worker.StreamPublisher{Stream: a.stream, Name: cfg.Streams.Decisions}
	a.enforcer = casefile.NewEnforcer(a.repo, publisher, newStaticRoles(cfg.Server.Moderators), logger)

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// workers builds the supervised worker set for this deployment.
func (a *app) workers() []worker.Worker {
	ingress := &worker.IngressWorker{
		Stream:     a.stream,
		Suite:      a.suite,
		Policies:   a.policies,
		Enforcer:   a.enforcer,
		Trust:      a.trust,
		Dedupe:     a.dedupe,
		Deltas:     a.cfg.Trust.Deltas,
		Logger:     a.logger,
		StreamName: a.cfg.Streams.Ingress,
		Group:      a.cfg.Streams.Group,
		Consumer:   a.cfg.Streams.Consumer,
		BatchSize:  a.cfg.Streams.BatchSize,
		Block:      a.cfg.Streams.Block(),
	}
	actions := &worker.ActionsWorker{
		Stream:     a.stream,
		Dedupe:     a.dedupe,
		Effector:   nil, // content removal is the embedding platform's hook
		Mutes:      a.mutes,
		Resolver:   worker.IdentityResolver{},
		Notifier:   a.notifier,
		Logger:     a.logger,
		StreamName: a.cfg.Streams.Decisions,
		Group:      a.cfg.Streams.Group,
		Consumer:   a.cfg.Streams.Consumer,
		BatchSize:  a.cfg.Streams.BatchSize,
		Block:      a.cfg.Streams.Block(),
	}
	return []worker.Worker{ingress, actions}
}

// stats snapshots queue depth and process info for the ops API.
func (a *app) stats() (map[string]any, error) {
	out := map[string]any{
		"uptime_seconds": int(time.Since(a.started).Seconds()),
		"policy_file":    a.cfg.PolicyFile,
	}
	switch {
	case a.redis != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ingress, err := a.redis.XLen(ctx, a.cfg.Streams.Ingress).Result()
		if err != nil {
			return nil, fmt.Errorf("reading ingress depth: %w", err)
		}
		decisions, err := a.redis.XLen(ctx, a.cfg.Streams.Decisions).Result()
		if err != nil {
			return nil, fmt.Errorf("reading decisions depth: %w", err)
		}
		out["ingress_depth"] = ingress
		out["decisions_depth"] = decisions
	case a.memQueue != nil:
		out["ingress_depth"] = a.memQueue.Len(a.cfg.Streams.Ingress)
		out["decisions_depth"] = a.memQueue.Len(a.cfg.Streams.Decisions)
	}
	return out, nil
}

// watchPolicy hot-reloads the policy tables when the file changes.
func (a *app) watchPolicy(ctx context.Context) {
	if a.cfg.PolicyFile == "" {
		return
	}
	go func() {
		if err := policy.Watch(ctx, a.cfg.PolicyFile, a.policies, a.logger); err != nil && ctx.Err() == nil {
			a.logger.Error("policy watcher stopped", "error", err)
		}
	}()
}
