package testutil

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ZipEntry is one member of a fixture archive. Names ending in "/" are directories.
type ZipEntry struct {
	Name string
	Body string
}

// ZipBytes builds a zip archive holding entries in order.
func ZipBytes(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("adding %s to zip: %v", e.Name, err)
		}
		if strings.HasSuffix(e.Name, "/") {
			continue
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("writing %s to zip: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a zip archive holding entries to path.
func WriteZip(t *testing.T, path string, entries ...ZipEntry) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, ZipBytes(t, entries...), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
