package ingest

import (
	"path"
	"strings"
)

// DefaultIgnorePatterns name the archive members written by desktop zip tools.
var DefaultIgnorePatterns = []string{"__MACOSX", ".DS_Store", "Thumbs.db", "desktop.ini"}

type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against the member path; false = match against each path element
}

// IgnoreMatcher selects archive members that are not sent to the extractor.
// Patterns without '/' match any single element of the member name, so
// "__MACOSX" ignores the whole folder. Patterns with '/' match the member
// name or one of its parent folders.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.Trim(raw, "/")
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the archive member name should be ignored.
// A nil matcher ignores nothing.
func (m *IgnoreMatcher) Match(name string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	name = strings.Trim(name, "/")
	if name == "" {
		return false
	}
	elements := strings.Split(name, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			for i := len(elements); i > 0; i-- {
				if matched, _ := path.Match(p.pattern, strings.Join(elements[:i], "/")); matched {
					return true
				}
			}
			continue
		}
		for _, e := range elements {
			// A malformed pattern never matches.
			if matched, _ := path.Match(p.pattern, e); matched {
				return true
			}
		}
	}
	return false
}
