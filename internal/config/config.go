package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level modpipe configuration.
type Config struct {
	Version    string          `yaml:"version"`
	Server     ServerConfig    `yaml:"server"`
	Redis      RedisConfig     `yaml:"redis"`
	Postgres   PostgresConfig  `yaml:"postgres"`
	DBPath     string          `yaml:"db_path"`               // sqlite case store when postgres is not configured
	PolicyFile string          `yaml:"policy_file,omitempty"` // empty = embedded default tables
	Guard      GuardConfig     `yaml:"guard"`
	Trust      TrustConfig     `yaml:"trust"`
	Detectors  DetectorsConfig `yaml:"detectors"`
	Streams    StreamsConfig   `yaml:"streams"`
	Tracing    TracingConfig   `yaml:"tracing,omitempty"`
	Webhooks   []Webhook       `yaml:"webhooks,omitempty"`
}

// ServerConfig holds ops API server settings.
type ServerConfig struct {
	Port       int      `yaml:"port"`
	Bind       string   `yaml:"bind"` // Address to bind (default: 127.0.0.1)
	LogLevel   string   `yaml:"log_level"`
	Moderators []string `yaml:"moderators,omitempty"` // actor ids allowed on audit endpoints
}

// RedisConfig locates the shared counter/stream backend.
type RedisConfig struct {
	URL string `yaml:"url"` // empty = in-memory stores (single process, dev/test)
}

// PostgresConfig locates the durable case/trust backend.
type PostgresConfig struct {
	URL string `yaml:"url"` // empty = sqlite at db_path
}

// GuardConfig tunes the pre-publish admission gate.
type GuardConfig struct {
	TrustFloor     int            `yaml:"trust_floor"`
	WindowSeconds  int            `yaml:"window_seconds"`
	Ceilings       map[string]int `yaml:"ceilings"` // per subject type
	DefaultCeiling int            `yaml:"default_ceiling"`
}

// Ceiling returns the rate ceiling for a subject type.
func (g GuardConfig) Ceiling(subjectType string) int {
	if c, ok := g.Ceilings[subjectType]; ok {
		return c
	}
	return g.DefaultCeiling
}

// TrustConfig bounds the trust ledger and maps moderation outcomes to deltas.
type TrustConfig struct {
	Min     int            `yaml:"min"`
	Max     int            `yaml:"max"`
	Default int            `yaml:"default"`
	Deltas  map[string]int `yaml:"deltas"` // positive, policy_violation, severe_violation
}

// DetectorsConfig tunes the heuristic detector set.
type DetectorsConfig struct {
	Lexicon         []LexiconEntry `yaml:"lexicon"`
	LinkDenylist    []string       `yaml:"link_denylist"`
	MaxLinks        int            `yaml:"max_links"`
	DupThreshold    int            `yaml:"dup_threshold"`
	DupWindowSecs   int            `yaml:"dup_window_seconds"`
	VelocityLimits  map[string]int `yaml:"velocity_limits"`      // per subject type, per window
	ScorerURL       string         `yaml:"scorer_url,omitempty"` // empty = neutral stub
	OCRURL          string         `yaml:"ocr_url,omitempty"`    // empty = empty-text stub
	ScorerTimeoutMS int            `yaml:"scorer_timeout_ms"`
}

// ScorerTimeout returns the bounded timeout for external scorer calls.
func (d DetectorsConfig) ScorerTimeout() time.Duration {
	return time.Duration(d.ScorerTimeoutMS) * time.Millisecond
}

// DupWindow returns the duplicate-text rolling window.
func (d DetectorsConfig) DupWindow() time.Duration {
	return time.Duration(d.DupWindowSecs) * time.Second
}

// LexiconEntry maps a phrase to a profanity severity.
// Table order is the tie-break between equal severities.
type LexiconEntry struct {
	Phrase   string `yaml:"phrase"`
	Severity string `yaml:"severity"` // low, medium, high
}

// StreamsConfig names the ingress and decision streams.
type StreamsConfig struct {
	Ingress   string `yaml:"ingress"`
	Decisions string `yaml:"decisions"`
	Group     string `yaml:"group"`
	Consumer  string `yaml:"consumer"`
	BatchSize int    `yaml:"batch_size"`
	BlockMS   int    `yaml:"block_ms"`
}

// Block returns the stream poll blocking duration.
func (s StreamsConfig) Block() time.Duration {
	return time.Duration(s.BlockMS) * time.Millisecond
}

// TracingConfig toggles OpenTelemetry tracing on the ops server.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Webhook defines an outgoing moderator notification endpoint.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"` // remove, tombstone, ban, mute
}

// Load reads and parses a modpipe config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	d := Defaults()
	if cfg.Guard.WindowSeconds == 0 {
		cfg.Guard.WindowSeconds = d.Guard.WindowSeconds
	}
	if cfg.Guard.DefaultCeiling == 0 {
		cfg.Guard.DefaultCeiling = d.Guard.DefaultCeiling
	}
	if len(cfg.Guard.Ceilings) == 0 {
		cfg.Guard.Ceilings = d.Guard.Ceilings
	}
	if cfg.Trust.Max == 0 {
		cfg.Trust.Max = d.Trust.Max
	}
	if cfg.Trust.Default == 0 {
		cfg.Trust.Default = d.Trust.Default
	}
	if len(cfg.Trust.Deltas) == 0 {
		cfg.Trust.Deltas = d.Trust.Deltas
	}
	if cfg.Detectors.MaxLinks == 0 {
		cfg.Detectors.MaxLinks = d.Detectors.MaxLinks
	}
	if cfg.Detectors.DupThreshold == 0 {
		cfg.Detectors.DupThreshold = d.Detectors.DupThreshold
	}
	if cfg.Detectors.DupWindowSecs == 0 {
		cfg.Detectors.DupWindowSecs = d.Detectors.DupWindowSecs
	}
	if cfg.Detectors.ScorerTimeoutMS == 0 {
		cfg.Detectors.ScorerTimeoutMS = d.Detectors.ScorerTimeoutMS
	}
	if len(cfg.Detectors.VelocityLimits) == 0 {
		cfg.Detectors.VelocityLimits = d.Detectors.VelocityLimits
	}
	if cfg.Streams.Ingress == "" {
		cfg.Streams.Ingress = d.Streams.Ingress
	}
	if cfg.Streams.Decisions == "" {
		cfg.Streams.Decisions = d.Streams.Decisions
	}
	if cfg.Streams.Group == "" {
		cfg.Streams.Group = d.Streams.Group
	}
	if cfg.Streams.Consumer == "" {
		cfg.Streams.Consumer = d.Streams.Consumer
	}
	if cfg.Streams.BatchSize == 0 {
		cfg.Streams.BatchSize = d.Streams.BatchSize
	}
	if cfg.Streams.BlockMS == 0 {
		cfg.Streams.BlockMS = d.Streams.BlockMS
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		DBPath: "modpipe.db",
		Guard: GuardConfig{
			TrustFloor:    10,
			WindowSeconds: 60,
			Ceilings: map[string]int{
				"post":    5,
				"comment": 15,
			},
			DefaultCeiling: 10,
		},
		Trust: TrustConfig{
			Min:     0,
			Max:     100,
			Default: 50,
			Deltas: map[string]int{
				"positive":         1,
				"policy_violation": -5,
				"severe_violation": -10,
			},
		},
		Detectors: DetectorsConfig{
			MaxLinks:        5,
			DupThreshold:    3,
			DupWindowSecs:   300,
			ScorerTimeoutMS: 2000,
			VelocityLimits: map[string]int{
				"post":    10,
				"comment": 30,
			},
		},
		Streams: StreamsConfig{
			Ingress:   "modpipe:ingress",
			Decisions: "modpipe:decisions",
			Group:     "modpipe",
			Consumer:  "worker-1",
			BatchSize: 32,
			BlockMS:   2000,
		},
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Trust.Min >= c.Trust.Max {
		return fmt.Errorf("trust min %d must be below max %d", c.Trust.Min, c.Trust.Max)
	}
	if c.Trust.Default < c.Trust.Min || c.Trust.Default > c.Trust.Max {
		return fmt.Errorf("trust default %d outside [%d,%d]", c.Trust.Default, c.Trust.Min, c.Trust.Max)
	}
	if c.Guard.TrustFloor < c.Trust.Min || c.Guard.TrustFloor > c.Trust.Max {
		return fmt.Errorf("guard trust_floor %d outside trust bounds", c.Guard.TrustFloor)
	}
	if c.Detectors.DupThreshold < 1 {
		return fmt.Errorf("dup_threshold must be at least 1")
	}
	for _, e := range c.Detectors.Lexicon {
		switch e.Severity {
		case "low", "medium", "high":
			// valid
		default:
			return fmt.Errorf("lexicon phrase %q has invalid severity %q", e.Phrase, e.Severity)
		}
	}
	return nil
}
