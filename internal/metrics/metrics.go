// Package metrics counts pipeline events in a Prometheus registry. Batch runs
// write the registry to a textfile for node_exporter to pick up.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ocr-ingest/internal/ingest"
)

// Recorder implements ingest.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	fetchAttempts     *prometheus.CounterVec
	filesProcessed    *prometheus.CounterVec
	archivesProcessed *prometheus.CounterVec
	lastRun           prometheus.Gauge
}

var _ ingest.Observer = (*Recorder)(nil)

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_attempts_total",
				Help: "Archive download attempts by result.",
			},
			[]string{"result"},
		),
		filesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_files_processed_total",
				Help: "Archive members processed by extraction status.",
			},
			[]string{"status"},
		),
		archivesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_archives_processed_total",
				Help: "Archives handled by final status, or skipped.",
			},
			[]string{"status"},
		),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_last_run_timestamp_seconds",
			Help: "Unix time at which the last run finished.",
		}),
	}
}

func (r *Recorder) FetchAttempt(failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	r.fetchAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) FileProcessed(status ingest.FileStatus) {
	r.filesProcessed.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) ArchiveProcessed(outcome ingest.ArchiveOutcome) {
	status := string(outcome.Status)
	if outcome.Skipped {
		status = "skipped"
	}
	r.archivesProcessed.WithLabelValues(status).Inc()
}

// RunFinished stamps the end of a run with the given unix time.
func (r *Recorder) RunFinished(unixSeconds float64) {
	r.lastRun.Set(unixSeconds)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes all metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
