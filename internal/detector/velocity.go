package detector

import (
	"context"

	"github.com/modpipe/modpipe/internal/countstore"
)

// VelocityDetector flags users creating content faster than a per-subject-
// type threshold within the counter window.
type VelocityDetector struct {
	store      countstore.CountStore
	limits     map[string]int
	defaultMax int
}

func NewVelocityDetector(store countstore.CountStore, limits map[string]int, defaultMax int) *VelocityDetector {
	return &VelocityDetector{store: store, limits: limits, defaultMax: defaultMax}
}

// Evaluate counts this event against the (user, subjectType) counter and
// reports whether the velocity threshold is exceeded.
func (d *VelocityDetector) Evaluate(ctx context.Context, userID, subjectType string) (bool, error) {
	n, err := d.store.Hit(ctx, "ingress/"+subjectType, userID)
	if err != nil {
		return false, err
	}
	limit, ok := d.limits[subjectType]
	if !ok {
		limit = d.defaultMax
	}
	return limit > 0 && n > limit, nil
}
