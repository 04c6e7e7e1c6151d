package fetch

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestReplacerPlainSubstring(t *testing.T) {
	r := NewReplacer(map[string]string{
		"github.com": "nexus.mycompany.net",
	}, logr.Discard())

	got := r.Apply("https://github.com/hashicorp/terraform/releases")
	assert.Equal(t, "https://nexus.mycompany.net/hashicorp/terraform/releases", got)
}

func TestReplacerRegexPattern(t *testing.T) {
	r := NewReplacer(map[string]string{
		"regex:^http://(.+)": "https://$1",
	}, logr.Discard())

	got := r.Apply("http://example.com/archive.tar.gz")
	assert.Equal(t, "https://example.com/archive.tar.gz", got)
}

func TestReplacerStopsAtFirstMatch(t *testing.T) {
	r := NewReplacer(map[string]string{
		"github.com": "mirror-a.internal",
		"mirror-a":   "mirror-b.internal",
	}, logr.Discard())

	got := r.Apply("https://github.com/x")
	assert.Equal(t, "https://mirror-a.internal/x", got)
}

func TestReplacerNoMatchReturnsInputUnchanged(t *testing.T) {
	r := NewReplacer(map[string]string{"nope.example": "replacement"}, logr.Discard())
	assert.Equal(t, "https://github.com/x", r.Apply("https://github.com/x"))
}

func TestReplacerEmptyMapIsNoop(t *testing.T) {
	r := NewReplacer(nil, logr.Discard())
	assert.Equal(t, "https://github.com/x", r.Apply("https://github.com/x"))
}

func TestReplacerInvalidRegexSkipped(t *testing.T) {
	r := NewReplacer(map[string]string{"regex:(unclosed": "x"}, logr.Discard())
	assert.Equal(t, "https://github.com/x", r.Apply("https://github.com/x"))
}
