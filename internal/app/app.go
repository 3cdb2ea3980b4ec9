package app

import (
	"context"
	"fmt"
	"os"
	"path"

	"ocr-ingest/internal/config"
	"ocr-ingest/internal/database"
	"ocr-ingest/internal/extract"
	"ocr-ingest/internal/ingest"
	"ocr-ingest/internal/metrics"
	"ocr-ingest/internal/objectstore"
)

// IngestApp is the application layer between the CLI and the ingest pipeline.
// It constructs all dependencies from config, exposes the CLI operations and
// records mutating operations in the runs table. The caller must call Close.
type IngestApp struct {
	cfg       *config.Config
	store     ingest.ProgressStore
	objects   ingest.ObjectStore
	extractor ingest.Extractor
	recorder  *metrics.Recorder
	logger    ingest.Logger
	clock     ingest.Clock
	op        *Operation
	logFile   *os.File
}

// readOnlyOperations never write the progress store. They require an existing
// schema instead of creating one.
var readOnlyOperations = map[string]bool{"Status": true, "Report": true, "History": true}

// NewIngestApp creates an IngestApp wired from cfg.
// operation identifies the CLI command being run (e.g. "Run", "Purge").
// The extraction engine is only constructed by operations that process archives.
func NewIngestApp(ctx context.Context, cfg *config.Config, operation string) (*IngestApp, error) {
	clock := ingest.RealClock{}

	opID := clock.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := database.NewProgressStoreFromConfig(ctx, cfg.Database, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating progress store: %w", err)
	}
	prepare := store.Migrate
	if readOnlyOperations[operation] {
		prepare = store.CheckSchema
	}
	if err := prepare(ctx); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("preparing progress store: %w", err)
	}

	objects, err := objectstore.NewObjectStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	return &IngestApp{
		cfg:      cfg,
		store:    store,
		objects:  objects,
		recorder: metrics.NewRecorder(),
		logger:   &slogAdapter{l: logger},
		clock:    clock,
		op:       NewOperation(operation, ""),
		logFile:  logFile,
	}, nil
}

// persistOperation saves the operation to the runs table, giving it an ID.
// Only mutating commands call this.
func (a *IngestApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	id, err := a.store.CreateRun(ctx, a.op.Operation, parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// engine returns the shared extraction engine, constructing it on first use.
func (a *IngestApp) engine() (ingest.Extractor, error) {
	if a.extractor != nil {
		return a.extractor, nil
	}
	e, err := extract.NewExtractorFromConfig(a.cfg.Extractor)
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}
	a.extractor = e
	return e, nil
}

// newPipeline builds the per-archive pipeline around the shared engine.
func (a *IngestApp) newPipeline(force bool) (*ingest.Pipeline, error) {
	e, err := a.engine()
	if err != nil {
		return nil, err
	}

	policy := ingest.FetchPolicy{
		Attempts:  a.cfg.Fetch.Attempts,
		BaseDelay: a.cfg.Fetch.BaseDelay.Duration,
		MaxDelay:  a.cfg.Fetch.MaxDelay.Duration,
	}
	fetcher := ingest.NewFetcher(a.objects, ingest.RealSleeper{}, policy, a.logger, a.recorder)

	return ingest.NewPipeline(a.store, fetcher, ingest.NewExpander(a.logger), ingest.NewWorker(e),
		a.logger, a.clock, ingest.UUIDGenerator{}, a.recorder, ingest.PipelineOptions{
			ScratchDir:     a.cfg.ScratchDir,
			ArchiveTimeout: a.cfg.Scheduler.ArchiveTimeout.Duration,
			ClaimLease:     a.cfg.Scheduler.ClaimLease.Duration,
			Force:          force,
			Ignore:         ingest.NewIgnoreMatcher(a.cfg.Scheduler.Ignore),
		}), nil
}

// Run discovers every archive below the monitored paths and processes it.
// workers overrides the configured concurrency when positive.
func (a *IngestApp) Run(ctx context.Context, workers int, force bool) (ingest.RunSummary, error) {
	if workers <= 0 {
		workers = a.cfg.Scheduler.Workers
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("workers=%d force=%t", workers, force)); err != nil {
		return ingest.RunSummary{}, err
	}

	summary, err := a.run(ctx, workers, force)
	if err != nil {
		a.op.Fail()
	}
	a.finishMetrics()
	return summary, err
}

func (a *IngestApp) run(ctx context.Context, workers int, force bool) (ingest.RunSummary, error) {
	if err := a.objects.ValidateSetup(ctx); err != nil {
		return ingest.RunSummary{}, fmt.Errorf("validating object store: %w", err)
	}

	p, err := a.newPipeline(force)
	if err != nil {
		return ingest.RunSummary{}, err
	}

	s := ingest.NewScheduler(a.objects, p, a.logger, ingest.SchedulerOptions{
		OutputDir:     a.cfg.OutputDir,
		Categories:    a.cfg.Scheduler.Categories,
		Subtypes:      a.cfg.Scheduler.Subtypes,
		ArchiveSuffix: a.cfg.Scheduler.ArchiveSuffix,
		Workers:       workers,
	})
	return s.Run(ctx)
}

// Process runs the pipeline for a single archive key. An empty outputDir
// places the files where a scheduled run would: below the key's monitored
// path in the configured output directory. Keys outside every monitored path
// go below their own folder.
func (a *IngestApp) Process(ctx context.Context, key, outputDir string, force bool) (ingest.ArchiveOutcome, error) {
	if outputDir == "" {
		monitored, ok := ingest.MonitoredPathOf(key, a.cfg.Scheduler.Categories, a.cfg.Scheduler.Subtypes)
		if !ok {
			monitored = path.Dir(key)
		}
		outputDir = ingest.ArchiveOutputDir(a.cfg.OutputDir, monitored)
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("key=%s output=%s force=%t", key, outputDir, force)); err != nil {
		return ingest.ArchiveOutcome{}, err
	}

	p, err := a.newPipeline(force)
	if err != nil {
		a.op.Fail()
		return ingest.ArchiveOutcome{}, err
	}

	outcome := p.ProcessArchive(ctx, ingest.ArchiveJob{Key: key, OutputDir: outputDir})
	if outcome.Err != nil {
		a.op.Fail()
	}
	a.finishMetrics()
	return outcome, nil
}

// ArchiveReport is the stored state of one archive and its files.
type ArchiveReport struct {
	Archive *ingest.Archive
	Files   []*ingest.File
}

// Status returns the stored state of the archive with the given key.
func (a *IngestApp) Status(ctx context.Context, key string) (*ArchiveReport, error) {
	archive, err := a.store.FindArchive(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("finding archive: %w", err)
	}
	if archive == nil {
		return nil, fmt.Errorf("archive not found: %s", key)
	}

	files, err := a.store.ListArchiveFiles(ctx, archive.ID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return &ArchiveReport{Archive: archive, Files: files}, nil
}

// Report returns the number of archives in each status.
func (a *IngestApp) Report(ctx context.Context) (map[ingest.ArchiveStatus]int, error) {
	return a.store.CountArchivesByStatus(ctx)
}

// Purge forgets an archive and its files so the next run processes it again.
// Extracted files on disk are left alone.
func (a *IngestApp) Purge(ctx context.Context, key string) (bool, error) {
	if err := a.persistOperation(ctx, "key="+key); err != nil {
		return false, err
	}
	found, err := a.store.PurgeArchive(ctx, key)
	if err != nil {
		a.op.Fail()
		return false, fmt.Errorf("purging archive: %w", err)
	}
	a.logger.Info("archive purged", "archive", key, "found", found)
	return found, nil
}

// History returns the most recent mutating operations.
func (a *IngestApp) History(ctx context.Context, limit int) ([]*ingest.Run, error) {
	return a.store.ListRuns(ctx, limit)
}

// finishMetrics stamps the run and writes the textfile if one is configured.
func (a *IngestApp) finishMetrics() {
	a.recorder.RunFinished(float64(a.clock.Now().Unix()))
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := a.recorder.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn("writing metrics failed", "path", a.cfg.MetricsFile, "error", err)
	}
}

// Close finalizes the operation record and releases all resources.
func (a *IngestApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.store.FinishRun(context.Background(), a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if a.extractor != nil {
		if err := a.extractor.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing extractor: %w", err)
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing progress store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
