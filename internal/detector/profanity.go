package detector

import (
	"strings"

	"github.com/modpipe/modpipe/internal/config"
)

// Profanity severities, ordered.
const (
	SeverityUnknown = "unknown"
	SeverityLow     = "low"
	SeverityMedium  = "medium"
	SeverityHigh    = "high"
)

var severityRank = map[string]int{
	SeverityUnknown: 0,
	SeverityLow:     1,
	SeverityMedium:  2,
	SeverityHigh:    3,
}

// ProfanityDetector matches text against a phrase lexicon.
type ProfanityDetector struct {
	lexicon []config.LexiconEntry
}

func NewProfanityDetector(lexicon []config.LexiconEntry) *ProfanityDetector {
	return &ProfanityDetector{lexicon: lexicon}
}

// Evaluate returns the highest severity of any lexicon phrase found in the
// text (case-insensitive substring match), or "unknown" when nothing
// matches. Between equal severities the earlier table entry wins.
func (d *ProfanityDetector) Evaluate(text string) string {
	lowered := strings.ToLower(text)
	best := SeverityUnknown
	for _, e := range d.lexicon {
		if severityRank[e.Severity] <= severityRank[best] {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(e.Phrase)) {
			best = e.Severity
			if best == SeverityHigh {
				break
			}
		}
	}
	return best
}
