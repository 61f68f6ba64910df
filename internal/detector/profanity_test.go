package detector

import (
	"testing"

	"github.com/modpipe/modpipe/internal/config"
	"github.com/stretchr/testify/assert"
)

func testLexicon() []config.LexiconEntry {
	return []config.LexiconEntry{
		{Phrase: "shenanigans", Severity: "medium"},
		{Phrase: "foo", Severity: "low"},
	}
}

func TestProfanityMatch(t *testing.T) {
	d := NewProfanityDetector(testLexicon())

	assert.Equal(t, "medium", d.Evaluate("shenanigans!"))
	assert.Equal(t, "low", d.Evaluate("foo fighters"))
	assert.Equal(t, "unknown", d.Evaluate("hello world"))
}

func TestProfanityCaseInsensitive(t *testing.T) {
	d := NewProfanityDetector(testLexicon())
	assert.Equal(t, "medium", d.Evaluate("SHENANIGANS ahead"))
}

func TestProfanityHighestWins(t *testing.T) {
	d := NewProfanityDetector(testLexicon())
	// both phrases present: medium outranks low regardless of position
	assert.Equal(t, "medium", d.Evaluate("foo shenanigans"))
	assert.Equal(t, "medium", d.Evaluate("shenanigans foo"))
}

func TestProfanityTableOrderTieBreak(t *testing.T) {
	d := NewProfanityDetector([]config.LexiconEntry{
		{Phrase: "alpha", Severity: "medium"},
		{Phrase: "beta", Severity: "medium"},
	})
	assert.Equal(t, "medium", d.Evaluate("beta alpha"))
}

func TestProfanityEmptyLexicon(t *testing.T) {
	d := NewProfanityDetector(nil)
	assert.Equal(t, "unknown", d.Evaluate("anything at all"))
}
