package detector

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// LinkSignals holds the two independent link-safety flags.
type LinkSignals struct {
	Unsafe    bool
	Excessive bool
}

// LinkSafetyDetector extracts URLs from text and checks hosts against a
// denylist.
type LinkSafetyDetector struct {
	denylist []string
	maxLinks int
}

func NewLinkSafetyDetector(denylist []string, maxLinks int) *LinkSafetyDetector {
	normalized := make([]string, 0, len(denylist))
	for _, d := range denylist {
		normalized = append(normalized, strings.ToLower(strings.TrimPrefix(d, ".")))
	}
	return &LinkSafetyDetector{denylist: normalized, maxLinks: maxLinks}
}

// Evaluate flags unsafe_links when any extracted host matches the denylist
// (exact or suffix) and excessive_links when the link count exceeds the
// maximum. Both are computed independently.
func (d *LinkSafetyDetector) Evaluate(text string) LinkSignals {
	raw := urlPattern.FindAllString(text, -1)

	var sig LinkSignals
	sig.Excessive = len(raw) > d.maxLinks

	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if d.denied(strings.ToLower(u.Hostname())) {
			sig.Unsafe = true
			break
		}
	}
	return sig
}

func (d *LinkSafetyDetector) denied(host string) bool {
	for _, deny := range d.denylist {
		if host == deny || strings.HasSuffix(host, "."+deny) {
			return true
		}
	}
	return false
}
