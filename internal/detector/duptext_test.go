package detector

import (
	"context"
	"testing"
	"time"

	"github.com/modpipe/modpipe/internal/textstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateTextThreshold(t *testing.T) {
	ctx := context.Background()
	d := NewDuplicateTextDetector(textstore.NewMemTextStore(5*time.Minute), 3)

	dup, err := d.Evaluate(ctx, "user1", "buy my thing")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.Evaluate(ctx, "user1", "buy my thing")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.Evaluate(ctx, "user1", "buy my thing")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestDuplicateTextNormalization(t *testing.T) {
	ctx := context.Background()
	d := NewDuplicateTextDetector(textstore.NewMemTextStore(5*time.Minute), 2)

	_, err := d.Evaluate(ctx, "user1", "Buy  My THING")
	require.NoError(t, err)
	dup, err := d.Evaluate(ctx, "user1", "buy my thing")
	require.NoError(t, err)
	assert.True(t, dup, "whitespace and case differences should fingerprint identically")
}

func TestDuplicateTextPerUser(t *testing.T) {
	ctx := context.Background()
	d := NewDuplicateTextDetector(textstore.NewMemTextStore(5*time.Minute), 2)

	_, err := d.Evaluate(ctx, "user1", "same text")
	require.NoError(t, err)
	dup, err := d.Evaluate(ctx, "user2", "same text")
	require.NoError(t, err)
	assert.False(t, dup, "counts are per user")
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("Hello  World"), Fingerprint("hello world"))
	assert.NotEqual(t, Fingerprint("hello world"), Fingerprint("hello there"))
}
