package syncstate

import (
	"fmt"
	"sort"
	"strings"
)

// MatchMode selects whether a tag includes or excludes files.
type MatchMode string

const (
	MatchInclude MatchMode = "include"
	MatchExclude MatchMode = "exclude"
)

// Valid reports whether m is a known match mode.
func (m MatchMode) Valid() bool {
	return m == MatchInclude || m == MatchExclude
}

// Tag is one (name, match) pair of a file-source tag set.
type Tag struct {
	Name  string    `json:"name"`
	Match MatchMode `json:"match"`
}

func (t Tag) normalized() Tag {
	if t.Match == "" {
		t.Match = MatchInclude
	}
	return t
}

// NormalizeTags fills default match modes and validates every tag.
func NormalizeTags(tags []Tag) ([]Tag, error) {
	out := make([]Tag, 0, len(tags))
	for i, t := range tags {
		t = t.normalized()
		if t.Name == "" {
			return nil, fmt.Errorf("tag %d: name is required", i)
		}
		if !t.Match.Valid() {
			return nil, fmt.Errorf("tag %q: unknown match mode %q", t.Name, t.Match)
		}
		out = append(out, t)
	}
	return out, nil
}

// TagSignature returns the canonical lookup key for a tag set.
// Tags are sorted by name then match mode, so the same set listed in a
// different order resolves to the same state.
func TagSignature(tags []Tag) string {
	sorted := make([]Tag, len(tags))
	for i, t := range tags {
		sorted[i] = t.normalized()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Match < sorted[j].Match
	})

	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = escapeTagPart(t.Name) + "=" + string(t.Match)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func escapeTagPart(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `,`, `\,`, `=`, `\=`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
