// Package detector implements the heuristic content detectors and the
// suite that runs them over a single ingress event. Each detector owns its
// signal keys; names are namespaced so the merged map never collides.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Signal keys. One detector owns each key.
const (
	SignalProfanity      = "profanity"       // string: unknown, low, medium, high
	SignalDupText        = "dup_text_5m"     // bool
	SignalUnsafeLinks    = "unsafe_links"    // bool
	SignalExcessiveLinks = "excessive_links" // bool
	SignalNSFW           = "nsfw_score"      // float64 in [0,1]
	SignalGore           = "gore_score"      // float64 in [0,1]
	SignalOCRText        = "ocr_text"        // string
)

// VelocityKey returns the velocity signal key for a subject type, e.g.
// "high_velocity_posts".
func VelocityKey(subjectType string) string {
	return "high_velocity_" + subjectType + "s"
}

// Event is one content event pulled off the ingress stream.
type Event struct {
	Text        string
	ActorID     string
	SubjectType string
	SubjectID   string
	TrustScore  *int
	MediaKeys   []string
	// Scores carries upstream classifier outputs (hate, toxicity)
	// attached to the event by the producer.
	Scores map[string]float64
}

// Suite composes the configured detectors over one event.
//
// Detectors with I/O (duplicate-text store, velocity counter, image
// scorer, OCR) run concurrently; the suite waits for all of them before
// returning the merged map. A failing detector never fails the event: its
// signal degrades to a safe default and the error is logged and counted.
type Suite struct {
	Profanity *ProfanityDetector
	Links     *LinkSafetyDetector
	Dup       *DuplicateTextDetector
	Velocity  *VelocityDetector
	Scorer    ImageScorer
	OCR       TextExtractor

	ScorerTimeout time.Duration
	Logger        *slog.Logger
}

// Evaluate runs the detector set and returns the merged signal map.
func (s *Suite) Evaluate(ctx context.Context, ev Event) map[string]any {
	signals := make(map[string]any)
	var mu sync.Mutex
	set := func(k string, v any) {
		mu.Lock()
		signals[k] = v
		mu.Unlock()
	}

	// upstream classifier scores pass straight through
	for k, v := range ev.Scores {
		signals[k] = v
	}

	// pure text detectors run inline
	if s.Profanity != nil {
		signals[SignalProfanity] = s.Profanity.Evaluate(ev.Text)
	}
	if s.Links != nil {
		ls := s.Links.Evaluate(ev.Text)
		signals[SignalUnsafeLinks] = ls.Unsafe
		signals[SignalExcessiveLinks] = ls.Excessive
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.Dup != nil && ev.Text != "" {
		g.Go(func() error {
			dup, err := s.Dup.Evaluate(gctx, ev.ActorID, ev.Text)
			if err != nil {
				s.degrade("duplicate_text", err)
				dup = false
			}
			set(SignalDupText, dup)
			return nil
		})
	}

	if s.Velocity != nil {
		g.Go(func() error {
			high, err := s.Velocity.Evaluate(gctx, ev.ActorID, ev.SubjectType)
			if err != nil {
				s.degrade("velocity", err)
				high = false
			}
			set(VelocityKey(ev.SubjectType), high)
			return nil
		})
	}

	if s.Scorer != nil && len(ev.MediaKeys) > 0 {
		g.Go(func() error {
			nsfw, gore := s.scoreMedia(gctx, ev.MediaKeys)
			set(SignalNSFW, nsfw)
			set(SignalGore, gore)
			return nil
		})
	}

	if s.OCR != nil && len(ev.MediaKeys) > 0 {
		g.Go(func() error {
			text := s.extractText(gctx, ev.MediaKeys)
			if text != "" {
				set(SignalOCRText, text)
			}
			return nil
		})
	}

	// goroutines above only report via degrade, never an error
	_ = g.Wait()
	return signals
}

// scoreMedia scores every media key and keeps the worst result. Scorer
// failures degrade to neutral zero.
func (s *Suite) scoreMedia(ctx context.Context, keys []string) (nsfw, gore float64) {
	for _, key := range keys {
		sctx, cancel := context.WithTimeout(ctx, s.ScorerTimeout)
		score, err := s.Scorer.Score(sctx, key)
		cancel()
		if err != nil {
			s.degrade("image_scorer", err)
			continue
		}
		nsfw = max(nsfw, score.NSFW)
		gore = max(gore, score.Gore)
	}
	return nsfw, gore
}

func (s *Suite) extractText(ctx context.Context, keys []string) string {
	var out string
	for _, key := range keys {
		sctx, cancel := context.WithTimeout(ctx, s.ScorerTimeout)
		text, err := s.OCR.Extract(sctx, key)
		cancel()
		if err != nil {
			s.degrade("ocr", err)
			continue
		}
		if text != "" {
			if out != "" {
				out += "\n"
			}
			out += text
		}
	}
	return out
}

func (s *Suite) degrade(name string, err error) {
	if s.Logger != nil {
		s.Logger.Warn("detector degraded to default signal", "detector", name, "error", err)
	}
	detectorErrors.WithLabelValues(name).Inc()
}
