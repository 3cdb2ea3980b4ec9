package ingest

import (
	"path"
	"path/filepath"
	"slices"
	"strings"
)

var (
	DefaultCategories = []string{"2", "3", "4"}
	DefaultSubtypes   = []string{"manual", "ocr"}
)

// MonitoredPaths expands each group prefix into <group><category>/pending/<subtype>/
// for every category and subtype, in that nesting order.
func MonitoredPaths(groups, categories, subtypes []string) []string {
	paths := make([]string, 0, len(groups)*len(categories)*len(subtypes))
	for _, group := range groups {
		if group != "" && !strings.HasSuffix(group, "/") {
			group += "/"
		}
		for _, category := range categories {
			for _, subtype := range subtypes {
				paths = append(paths, group+category+"/pending/"+subtype+"/")
			}
		}
	}
	return paths
}

// MonitoredPathOf returns the monitored path a key lies under, the
// <group><category>/pending/<subtype>/ prefix of key. ok is false when the key
// is outside every monitored path. Empty categories or subtypes use the defaults.
func MonitoredPathOf(key string, categories, subtypes []string) (monitored string, ok bool) {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	if len(subtypes) == 0 {
		subtypes = DefaultSubtypes
	}

	// group, category, "pending", subtype and at least one more element
	parts := strings.SplitN(key, "/", 5)
	if len(parts) < 5 || parts[0] == "" || parts[4] == "" || parts[2] != "pending" ||
		!slices.Contains(categories, parts[1]) || !slices.Contains(subtypes, parts[3]) {
		return "", false
	}
	return strings.Join(parts[:4], "/") + "/", true
}

// ArchiveOutputDir is the local directory that archives found under the
// monitored path are extracted into.
func ArchiveOutputDir(outputRoot, monitored string) string {
	return filepath.Join(outputRoot, filepath.FromSlash(monitored))
}

// HasSuffixFold reports whether key ends with suffix, ignoring case.
func HasSuffixFold(key, suffix string) bool {
	return len(key) >= len(suffix) && strings.EqualFold(key[len(key)-len(suffix):], suffix)
}

// isFolderMarker reports whether key is a zero-byte "directory" placeholder.
func isFolderMarker(key string) bool {
	return strings.HasSuffix(key, "/") || path.Base(key) == "."
}
