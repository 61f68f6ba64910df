// Package policy maps detector signals and a trust score to an
// enforcement decision using configurable threshold tables.
package policy

import "fmt"

// PolicyError reports an invalid policy table.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "invalid policy: " + e.Reason
}

// HardRule blocks unconditionally when a signal reaches its threshold.
// Hard rules are trust-independent.
type HardRule struct {
	Signal    string  `yaml:"signal"`
	Threshold float64 `yaml:"threshold"`
}

// SoftRule contributes weighted severity toward the review threshold.
type SoftRule struct {
	Signal string  `yaml:"signal"`
	Weight float64 `yaml:"weight"`
}

// Family groups the rules for one signal family (text, image). Families
// keep independent tables but compose into the same Decision.
type Family struct {
	Name string     `yaml:"name"`
	Hard []HardRule `yaml:"hard"`
	Soft []SoftRule `yaml:"soft"`
}

// TrustModulation adjusts the review threshold by trust score: low trust
// lowers it (easier to flag), high trust raises it. Hard thresholds are
// never modulated.
type TrustModulation struct {
	Neutral int     `yaml:"neutral"`
	Factor  float64 `yaml:"factor"` // threshold delta per trust point from neutral
}

// Policy is a full rule table. Evaluate is a pure function of the policy,
// so a Policy value can be shared across workers once built.
type Policy struct {
	ID              string          `yaml:"id"`
	ReviewThreshold float64         `yaml:"review_threshold"`
	SeverityCap     float64         `yaml:"severity_cap"`
	HighRatio       float64         `yaml:"high_ratio"`
	Trust           TrustModulation `yaml:"trust"`
	Families        []Family        `yaml:"families"`
}

// Validate checks the rule tables.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return &PolicyError{Reason: "missing id"}
	}
	if p.ReviewThreshold <= 0 {
		return &PolicyError{Reason: "review_threshold must be positive"}
	}
	if p.SeverityCap > 0 && p.SeverityCap < p.ReviewThreshold {
		return &PolicyError{Reason: "severity_cap below review_threshold"}
	}
	if p.HighRatio < 1 {
		return &PolicyError{Reason: "high_ratio must be at least 1"}
	}
	for _, f := range p.Families {
		for _, r := range f.Hard {
			if r.Signal == "" || r.Threshold <= 0 {
				return &PolicyError{Reason: fmt.Sprintf("family %s: bad hard rule %q", f.Name, r.Signal)}
			}
		}
		for _, r := range f.Soft {
			if r.Signal == "" || r.Weight < 0 {
				return &PolicyError{Reason: fmt.Sprintf("family %s: bad soft rule %q", f.Name, r.Signal)}
			}
		}
	}
	return nil
}

// Evaluate maps signals and a trust score to a Decision.
//
// Hard rules run first in table order; the first signal at or over its
// threshold short-circuits to a block regardless of trust. Otherwise soft
// rules accumulate weighted severity additively across families, capped at
// severity_cap, and the total is compared against the trust-adjusted
// review threshold. Reasons follow rule table order, so identical input
// always yields an identical decision.
func (p *Policy) Evaluate(signals map[string]any, trustScore int) Decision {
	for _, f := range p.Families {
		for _, r := range f.Hard {
			v := signalValue(signals[r.Signal])
			if v >= r.Threshold {
				return Decision{
					Status:   StatusBlocked,
					Action:   ActionRemove,
					Severity: SeverityBlocked,
					Reasons:  []string{r.Signal + "_hard"},
					Payload: map[string]any{
						"policy_id": p.ID,
						"signal":    r.Signal,
						"value":     v,
					},
				}
			}
		}
	}

	var total float64
	var reasons []string
	for _, f := range p.Families {
		for _, r := range f.Soft {
			v := signalValue(signals[r.Signal])
			if v <= 0 || r.Weight <= 0 {
				continue
			}
			total += v * r.Weight
			reasons = append(reasons, r.Signal)
		}
	}
	if p.SeverityCap > 0 && total > p.SeverityCap {
		total = p.SeverityCap
	}

	threshold := p.ReviewThreshold + float64(trustScore-p.Trust.Neutral)*p.Trust.Factor
	if total >= threshold {
		level := LevelMedium
		severity := SeverityReviewMedium
		if total >= p.ReviewThreshold*p.HighRatio {
			level = LevelHigh
			severity = SeverityReviewHigh
		}
		return Decision{
			Status:   StatusNeedsReview,
			Action:   ActionTombstone,
			Severity: severity,
			Level:    level,
			Reasons:  reasons,
			Payload: map[string]any{
				"policy_id": p.ID,
				"score":     total,
				"threshold": threshold,
			},
		}
	}

	return Decision{
		Status:   StatusAllowed,
		Action:   ActionAllow,
		Severity: SeverityNone,
	}
}

// signalValue coerces a signal to its severity contribution. Profanity
// severity strings map onto [0,1]; unknown types contribute nothing.
func signalValue(v any) float64 {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case string:
		switch t {
		case "low":
			return 0.25
		case "medium":
			return 0.5
		case "high":
			return 1.0
		default:
			return 0
		}
	default:
		return 0
	}
}
