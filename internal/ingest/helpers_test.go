package ingest_test

import (
	"os"
	"sync"
	"testing"

	"ocr-ingest/internal/ingest"
)

// recordingObserver collects pipeline events.
type recordingObserver struct {
	mu       sync.Mutex
	fetches  []bool
	files    []ingest.FileStatus
	archives []ingest.ArchiveOutcome
}

func (o *recordingObserver) FetchAttempt(failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, failed)
}

func (o *recordingObserver) FileProcessed(status ingest.FileStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, status)
}

func (o *recordingObserver) ArchiveProcessed(outcome ingest.ArchiveOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archives = append(o.archives, outcome)
}

// assertEmptyDir fails the test if dir holds any entry.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("reading %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("%s holds %v, want empty", dir, names)
	}
}
