// Package version implements the tool version constraint grammar: exact
// versions, the latest/stable/dev|main|master aliases, x.y.* globs, tilde
// and caret ranges, and matrices (lists of any of the above). It uses
// github.com/Masterminds/semver/v3 for comparison and range matching.
package version

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind identifies which branch of the constraint grammar a Constraint was
// parsed as.
type Kind string

const (
	KindExact Kind = "exact"
	KindAlias Kind = "alias"
	KindGlob  Kind = "glob"
	KindTilde Kind = "tilde"
	KindCaret Kind = "caret"
)

// pinnedAliases resolve to themselves rather than to an upstream catalog
// entry, naming a tool-specific floating channel (e.g. a language
// toolchain's "dev" build) that the release source can't enumerate.
var pinnedAliases = map[string]bool{"dev": true, "main": true, "master": true}

var globRe = regexp.MustCompile(`^(\d+)\.(\d+)\.\*$`)

// Constraint is a single parsed expression from the grammar.
type Constraint struct {
	Raw  string
	Kind Kind

	// exact
	exact string

	// glob: major.minor.*
	globMajor, globMinor uint64

	// tilde / caret: parsed base version
	base *semver.Version
}

// Parse parses one constraint expression.
func Parse(raw string) (*Constraint, error) {
	trimmed := strings.TrimSpace(raw)

	switch trimmed {
	case "latest", "stable":
		return &Constraint{Raw: raw, Kind: KindAlias, exact: trimmed}, nil
	}
	if pinnedAliases[trimmed] {
		return &Constraint{Raw: raw, Kind: KindAlias, exact: trimmed}, nil
	}

	if m := globRe.FindStringSubmatch(trimmed); m != nil {
		c := &Constraint{Raw: raw, Kind: KindGlob}
		c.globMajor = mustUint(m[1])
		c.globMinor = mustUint(m[2])
		return c, nil
	}

	if strings.HasPrefix(trimmed, "~") {
		v, err := semver.NewVersion(strings.TrimPrefix(trimmed, "~"))
		if err != nil {
			return nil, err
		}
		return &Constraint{Raw: raw, Kind: KindTilde, base: v}, nil
	}

	if strings.HasPrefix(trimmed, "^") {
		v, err := semver.NewVersion(strings.TrimPrefix(trimmed, "^"))
		if err != nil {
			return nil, err
		}
		return &Constraint{Raw: raw, Kind: KindCaret, base: v}, nil
	}

	// exact: "1.2.3" or "v1.2.3", identity, but must still be a parseable
	// version so later comparisons behave.
	normalized := strings.TrimPrefix(trimmed, "v")
	if _, err := semver.NewVersion(normalized); err != nil {
		return nil, err
	}
	return &Constraint{Raw: raw, Kind: KindExact, exact: normalized}, nil
}

func mustUint(s string) uint64 {
	var n uint64
	for _, r := range s {
		n = n*10 + uint64(r-'0')
	}
	return n
}

// hasExplicitPrerelease reports whether raw itself names a prerelease, which
// lets that single candidate survive exclusion even when includePrereleases
// is false.
func hasExplicitPrerelease(raw string) bool {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(raw), "v"))
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}

// candidate pairs a catalog entry's raw string with its parsed version.
type candidate struct {
	raw string
	ver *semver.Version
}

// candidates parses and sorts a catalog's raw version strings newest-first;
// unparseable entries sort to the oldest.
func candidates(available []string) []candidate {
	out := make([]candidate, len(available))
	for i, a := range available {
		v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(a), "v"))
		if err == nil {
			out[i] = candidate{raw: a, ver: v}
		} else {
			out[i] = candidate{raw: a}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ver == nil {
			return false
		}
		if out[j].ver == nil {
			return true
		}
		return out[i].ver.GreaterThan(out[j].ver)
	})
	return out
}

func isPrerelease(v *semver.Version) bool {
	return v != nil && v.Prerelease() != ""
}

// Resolve resolves a single constraint against a catalog's available
// version strings (any order). Returns the empty string with ok=false when
// nothing matches; the caller decides whether that is fatal.
func (c *Constraint) Resolve(available []string, includePrereleases bool) (string, bool) {
	allowPrerelease := includePrereleases || hasExplicitPrerelease(c.Raw)
	cands := candidates(available)

	switch c.Kind {
	case KindAlias:
		if pinnedAliases[c.exact] {
			return c.exact, true
		}
		// "latest" / "stable": newest non-prerelease.
		for _, cand := range cands {
			if cand.ver == nil || isPrerelease(cand.ver) {
				continue
			}
			return cand.raw, true
		}
		return "", false

	case KindExact:
		want, _ := semver.NewVersion(c.exact)
		for _, cand := range cands {
			if cand.ver != nil && cand.ver.Equal(want) {
				return cand.raw, true
			}
		}
		return "", false

	case KindGlob:
		for _, cand := range cands {
			if cand.ver == nil {
				continue
			}
			if !allowPrerelease && isPrerelease(cand.ver) {
				continue
			}
			if cand.ver.Major() == c.globMajor && cand.ver.Minor() == c.globMinor {
				return cand.raw, true
			}
		}
		return "", false

	case KindTilde:
		lower := c.base
		upper := semver.New(c.base.Major(), c.base.Minor()+1, 0, "", "")
		for _, cand := range cands {
			if cand.ver == nil {
				continue
			}
			if !allowPrerelease && isPrerelease(cand.ver) {
				continue
			}
			if !cand.ver.LessThan(lower) && cand.ver.LessThan(upper) {
				return cand.raw, true
			}
		}
		return "", false

	case KindCaret:
		lower := c.base
		upper := semver.New(c.base.Major()+1, 0, 0, "", "")
		for _, cand := range cands {
			if cand.ver == nil {
				continue
			}
			if !allowPrerelease && isPrerelease(cand.ver) {
				continue
			}
			if !cand.ver.LessThan(lower) && cand.ver.LessThan(upper) {
				return cand.raw, true
			}
		}
		return "", false
	}
	return "", false
}

// Matrix is an ordered list of constraints resolved independently, a
// multi-version spec for a single tool.
type Matrix struct {
	Constraints []*Constraint
}

// ParseMatrix parses every raw expression in specs.
func ParseMatrix(specs []string) (*Matrix, error) {
	m := &Matrix{Constraints: make([]*Constraint, 0, len(specs))}
	for _, s := range specs {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		m.Constraints = append(m.Constraints, c)
	}
	return m, nil
}

// ResolvedEntry is one element of a matrix resolution, pairing the original
// constraint with its resolved concrete version.
type ResolvedEntry struct {
	Constraint string
	Version    string
}

// Resolve resolves every constraint in the matrix against available,
// deduplicating by resolved version while preserving input order.
func (m *Matrix) Resolve(available []string, includePrereleases bool) []ResolvedEntry {
	seen := make(map[string]bool)
	out := make([]ResolvedEntry, 0, len(m.Constraints))
	for _, c := range m.Constraints {
		v, ok := c.Resolve(available, includePrereleases)
		if !ok {
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, ResolvedEntry{Constraint: c.Raw, Version: v})
	}
	return out
}

// SortVersions sorts raw version strings newest-first, semantic-version
// aware; unparseable entries sort to the oldest.
func SortVersions(vs []string) []string {
	cands := candidates(vs)
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.raw
	}
	return out
}
