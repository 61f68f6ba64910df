package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkSafetyDenylisted(t *testing.T) {
	d := NewLinkSafetyDetector([]string{"spam.example"}, 2)

	sig := d.Evaluate("look https://spam.example/win and https://ok.example/page")
	assert.True(t, sig.Unsafe)
	assert.False(t, sig.Excessive)
}

func TestLinkSafetySuffixMatch(t *testing.T) {
	d := NewLinkSafetyDetector([]string{"spam.example"}, 5)

	assert.True(t, d.Evaluate("https://cdn.spam.example/x").Unsafe)
	// not a dot-boundary suffix
	assert.False(t, d.Evaluate("https://notspam.example/x").Unsafe)
}

func TestLinkSafetyExcessive(t *testing.T) {
	d := NewLinkSafetyDetector(nil, 2)

	sig := d.Evaluate("https://a.example https://b.example https://c.example")
	assert.False(t, sig.Unsafe)
	assert.True(t, sig.Excessive)
}

func TestLinkSafetyIndependentFlags(t *testing.T) {
	d := NewLinkSafetyDetector([]string{"spam.example"}, 1)

	sig := d.Evaluate("https://spam.example/a https://ok.example/b")
	assert.True(t, sig.Unsafe)
	assert.True(t, sig.Excessive)
}

func TestLinkSafetyNoLinks(t *testing.T) {
	d := NewLinkSafetyDetector([]string{"spam.example"}, 2)

	sig := d.Evaluate("no links here")
	assert.False(t, sig.Unsafe)
	assert.False(t, sig.Excessive)
}
