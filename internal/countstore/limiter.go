package countstore

import "context"

// Limiter adapts a CountStore to the rate-limiter contract consumed by the
// create guard: Hit returns the current count for (user, subjectType), or
// -1 when the backend fails. Callers treat -1 as a backend outage and fail
// closed.
type Limiter struct {
	Store CountStore
}

func NewLimiter(store CountStore) *Limiter {
	return &Limiter{Store: store}
}

func (l *Limiter) Hit(ctx context.Context, userID, subjectType string) int {
	n, err := l.Store.Hit(ctx, "create/"+subjectType, userID)
	if err != nil {
		return -1
	}
	return n
}
