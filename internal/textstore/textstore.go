// Package textstore keeps a rolling record of recent text fingerprints per
// user, backing the duplicate-text detector.
package textstore

import "context"

// TextStore records text fingerprint sightings with a TTL window.
type TextStore interface {
	// Observe records one sighting of fingerprint fp for the user and
	// returns the number of sightings within the window, including this
	// one.
	Observe(ctx context.Context, userID, fp string) (int, error)
}
