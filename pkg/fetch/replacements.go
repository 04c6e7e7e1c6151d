package fetch

import (
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

// Replacer applies the URL replacement map from a user's global config
// (~/.wrknv/config.toml) to a resolved download URL before fetch, so a
// mirrored or proxied host can stand in for an upstream one.
type Replacer struct {
	replacements map[string]string
	log          logr.Logger
}

// NewReplacer builds a Replacer from a pattern -> replacement map. A pattern
// prefixed "regex:" is compiled and applied with ReplaceAllString; anything
// else is a plain substring replacement.
func NewReplacer(replacements map[string]string, log logr.Logger) *Replacer {
	return &Replacer{replacements: replacements, log: log}
}

// Apply runs every configured replacement against rawURL in a deterministic
// order (simple patterns before regex patterns, then alphabetical), stopping
// at the first pattern that actually changes the URL.
func (r *Replacer) Apply(rawURL string) string {
	if len(r.replacements) == 0 {
		return rawURL
	}

	patterns := make([]string, 0, len(r.replacements))
	for p := range r.replacements {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		iRe := strings.HasPrefix(patterns[i], "regex:")
		jRe := strings.HasPrefix(patterns[j], "regex:")
		if iRe != jRe {
			return !iRe
		}
		return patterns[i] < patterns[j]
	})

	for _, pattern := range patterns {
		replacement := r.replacements[pattern]
		next := r.applyOne(rawURL, pattern, replacement)
		if next != rawURL {
			r.log.V(1).Info("URL replacement applied", "from", rawURL, "to", next, "pattern", pattern)
			return next
		}
	}
	return rawURL
}

func (r *Replacer) applyOne(rawURL, pattern, replacement string) string {
	if strings.HasPrefix(pattern, "regex:") {
		re, err := regexp.Compile(strings.TrimPrefix(pattern, "regex:"))
		if err != nil {
			r.log.V(1).Info("invalid regex replacement pattern, skipping", "pattern", pattern)
			return rawURL
		}
		return re.ReplaceAllString(rawURL, replacement)
	}
	return strings.ReplaceAll(rawURL, pattern, replacement)
}
