// Package countstore tracks event counts in fixed time windows. It backs
// both the create-guard rate limiter and the velocity detectors.
package countstore

import (
	"context"
	"fmt"
	"time"
)

// CountStore counts hits per (name, val) key within a rolling window.
type CountStore interface {
	// Hit increments the counter and returns the count within the
	// current window, including this hit.
	Hit(ctx context.Context, name, val string) (int, error)
	// GetCount returns the count within the current window without
	// incrementing.
	GetCount(ctx context.Context, name, val string) (int, error)
}

// windowBucket keys a counter to its fixed window. Counts reset at window
// boundaries rather than sliding, which is accurate enough for admission
// control and keeps the store a plain INCR.
func windowBucket(name, val string, window time.Duration, now time.Time) string {
	slot := now.UTC().Unix() / int64(window.Seconds())
	return fmt.Sprintf("%s/%s/%d", name, val, slot)
}
