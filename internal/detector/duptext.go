package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/modpipe/modpipe/internal/textstore"
)

// DuplicateTextDetector flags users reposting the same text within a
// rolling window.
type DuplicateTextDetector struct {
	store     textstore.TextStore
	threshold int
}

func NewDuplicateTextDetector(store textstore.TextStore, threshold int) *DuplicateTextDetector {
	return &DuplicateTextDetector{store: store, threshold: threshold}
}

// Evaluate records the text for the user and reports whether it has now
// been seen at least threshold times within the window.
func (d *DuplicateTextDetector) Evaluate(ctx context.Context, userID, text string) (bool, error) {
	n, err := d.store.Observe(ctx, userID, Fingerprint(text))
	if err != nil {
		return false, err
	}
	return n >= d.threshold, nil
}

// Fingerprint normalizes text (lowercase, collapsed whitespace) and hashes
// it so the store never holds raw content.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}
