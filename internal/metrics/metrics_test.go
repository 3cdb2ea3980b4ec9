package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"ocr-ingest/internal/ingest"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()

	r.FetchAttempt(true)
	r.FetchAttempt(false)
	r.FetchAttempt(false)
	r.FileProcessed(ingest.FileCompleted)
	r.FileProcessed(ingest.FileError)
	r.FileProcessed(ingest.FileCompleted)
	r.ArchiveProcessed(ingest.ArchiveOutcome{Status: ingest.ArchiveCompleted})
	r.ArchiveProcessed(ingest.ArchiveOutcome{Status: ingest.ArchiveErrorBadArchive})
	r.ArchiveProcessed(ingest.ArchiveOutcome{Skipped: true, SkipReason: "already completed"})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"failed fetches", promtest.ToFloat64(r.fetchAttempts.WithLabelValues("failed")), 1},
		{"ok fetches", promtest.ToFloat64(r.fetchAttempts.WithLabelValues("ok")), 2},
		{"completed files", promtest.ToFloat64(r.filesProcessed.WithLabelValues("completed")), 2},
		{"failed files", promtest.ToFloat64(r.filesProcessed.WithLabelValues("error")), 1},
		{"completed archives", promtest.ToFloat64(r.archivesProcessed.WithLabelValues("completed")), 1},
		{"bad archives", promtest.ToFloat64(r.archivesProcessed.WithLabelValues("error_bad_archive")), 1},
		{"skipped archives", promtest.ToFloat64(r.archivesProcessed.WithLabelValues("skipped")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.FileProcessed(ingest.FileCompleted)
	r.RunFinished(1705314600)

	path := filepath.Join(t.TempDir(), "textfile", "ingest.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`ingest_files_processed_total{status="completed"} 1`,
		"ingest_last_run_timestamp_seconds ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}
