package policy

// Decision statuses.
const (
	StatusAllowed     = "allowed"
	StatusNeedsReview = "needs_review"
	StatusBlocked     = "blocked"
)

// Enforcement actions.
const (
	ActionAllow     = "allow"
	ActionFlag      = "flag"
	ActionRemove    = "remove"
	ActionTombstone = "tombstone"
	ActionBan       = "ban"
	ActionMute      = "mute"
)

// Review levels.
const (
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Decision severities. Hard blocks sit above the case-escalation
// threshold; review outcomes below it.
const (
	SeverityNone         = 0
	SeverityReviewMedium = 2
	SeverityReviewHigh   = 3
	SeverityBlocked      = 5
)

// Decision is the immutable outcome of a policy evaluation.
type Decision struct {
	Status   string         `json:"status"`
	Action   string         `json:"action"`
	Severity int            `json:"severity"`
	Level    string         `json:"level,omitempty"`
	Reasons  []string       `json:"reasons"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Actionable reports whether the decision requires enforcement.
func (d Decision) Actionable() bool {
	return d.Action != ActionAllow
}
