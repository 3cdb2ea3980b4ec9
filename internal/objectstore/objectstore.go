// Package objectstore implements ingest.ObjectStore over S3, MinIO, a local
// directory tree and memory. Keys are slash-separated in every backend.
package objectstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// writeFile fills destPath through a temporary file in the same directory and
// renames it into place. On failure nothing is left behind.
func writeFile(destPath string, fill func(f *os.File) error) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// commonPrefixes groups keys below prefix the way S3 does for a delimiter:
// every key with a delimiter after prefix contributes the part up to and
// including that delimiter.
func commonPrefixes(keys []string, prefix, delimiter string) []string {
	seen := make(map[string]struct{})
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if i := strings.Index(rest, delimiter); i >= 0 {
			seen[prefix+rest[:i+len(delimiter)]] = struct{}{}
		}
	}

	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}
