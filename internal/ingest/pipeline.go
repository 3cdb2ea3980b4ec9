package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// DefaultClaimLease is how long an in-progress archive is considered held by
// the worker that claimed it. A run with Force takes it over at once.
const DefaultClaimLease = 6 * time.Hour

// ArchiveJob identifies one archive to process.
type ArchiveJob struct {
	Key       string // object key, also the archive's natural key in the progress store
	OutputDir string // where the archive's files are extracted
}

// ArchiveOutcome summarizes one ProcessArchive call.
type ArchiveOutcome struct {
	Path           string
	Status         ArchiveStatus
	Skipped        bool
	SkipReason     string
	FilesCompleted int
	FilesFailed    int
	FilesSkipped   int
	Err            error
}

// PipelineOptions tunes a Pipeline.
type PipelineOptions struct {
	ScratchDir     string         // downloaded archives are written here and removed afterwards
	ArchiveTimeout time.Duration  // zero means no per-archive deadline
	ClaimLease     time.Duration  // zero means DefaultClaimLease
	Force          bool           // reprocess completed archives and take over held claims
	Ignore         *IgnoreMatcher // members not sent to the extractor; nil ignores nothing
}

// Pipeline drives the per-archive state machine:
// downloading -> extracting -> completed, with failure exits error and error_bad_archive.
type Pipeline struct {
	store    ProgressStore
	fetcher  *Fetcher
	expander *Expander
	worker   *Worker
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	observer Observer
	opts     PipelineOptions
}

// NewPipeline creates a Pipeline with the provided dependencies.
func NewPipeline(store ProgressStore, fetcher *Fetcher, expander *Expander, worker *Worker, logger Logger, clock Clock, idgen IDGenerator, observer Observer, opts PipelineOptions) *Pipeline {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = DefaultClaimLease
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Pipeline{
		store:    store,
		fetcher:  fetcher,
		expander: expander,
		worker:   worker,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		observer: observer,
		opts:     opts,
	}
}

// ProcessArchive runs one archive to a terminal status and persists every
// transition. Failures are recorded against the archive and returned in the
// outcome; they never escape as panics or affect other archives.
func (p *Pipeline) ProcessArchive(ctx context.Context, job ArchiveJob) (outcome ArchiveOutcome) {
	outcome.Path = job.Key
	defer func() { p.observer.ArchiveProcessed(outcome) }()

	// Bookkeeping writes must land even when the archive deadline fires.
	storeCtx := context.WithoutCancel(ctx)

	if !p.opts.Force {
		done, err := p.store.IsArchiveCompleted(storeCtx, job.Key)
		if err != nil {
			p.logger.Warn("checking archive completion failed", "archive", job.Key, "error", err)
		} else if done {
			p.logger.Info("archive already completed, skipping", "archive", job.Key)
			outcome.Status = ArchiveCompleted
			outcome.Skipped = true
			outcome.SkipReason = "already completed"
			return outcome
		}
	}

	now := p.clock.Now()
	claimed, err := p.store.ClaimArchive(storeCtx, job.Key, now, now.Add(-p.opts.ClaimLease), p.opts.Force)
	if err != nil {
		p.logger.Error("claiming archive failed", "archive", job.Key, "error", err)
		outcome.Status = ArchiveError
		outcome.Err = fmt.Errorf("claiming archive: %w", err)
		return outcome
	}
	if !claimed {
		p.logger.Warn("archive claim refused, skipping", "archive", job.Key)
		outcome.Skipped = true
		outcome.SkipReason = "claimed by another worker or completed"
		return outcome
	}
	p.logger.Info("archive processing started", "archive", job.Key, "status", ArchiveDownloading)

	if p.opts.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ArchiveTimeout)
		defer cancel()
	}

	downloadPath := filepath.Join(p.opts.ScratchDir, p.idgen.New()+"-"+path.Base(job.Key))
	defer p.cleanup(downloadPath)

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = ArchiveError
			outcome.Err = fmt.Errorf("unexpected failure: %v", r)
			p.finish(storeCtx, &outcome)
		}
	}()

	outcome.Status, outcome.Err = p.run(ctx, storeCtx, job, downloadPath, &outcome)
	p.finish(storeCtx, &outcome)
	return outcome
}

// run performs fetch, expand and the per-file loop, returning the terminal status.
func (p *Pipeline) run(ctx, storeCtx context.Context, job ArchiveJob, downloadPath string, outcome *ArchiveOutcome) (ArchiveStatus, error) {
	if err := os.MkdirAll(p.opts.ScratchDir, 0755); err != nil {
		return ArchiveError, fmt.Errorf("creating scratch directory: %w", err)
	}

	if err := p.fetcher.Fetch(ctx, job.Key, downloadPath); err != nil {
		return ArchiveError, err
	}

	p.setStatus(storeCtx, job.Key, ArchiveExtracting)
	entries, err := p.expander.Expand(downloadPath, job.OutputDir)
	if err != nil {
		if errors.Is(err, ErrBadArchive) {
			return ArchiveErrorBadArchive, err
		}
		return ArchiveError, fmt.Errorf("expanding archive: %w", err)
	}

	archiveID, err := p.store.RegisterArchive(storeCtx, job.Key)
	if err != nil {
		return ArchiveError, fmt.Errorf("registering archive: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return ArchiveError, fmt.Errorf("processing interrupted: %w", err)
		}
		if entry.IsDir {
			p.logger.Debug("skipping directory", "path", entry.Path)
			continue
		}
		if p.opts.Ignore.Match(entry.Name) {
			p.logger.Debug("skipping ignored member", "path", entry.Path)
			continue
		}
		p.processFile(ctx, storeCtx, archiveID, entry.Path, outcome)
	}

	return ArchiveCompleted, nil
}

// processFile extracts one file and records its outcome. Extraction failures
// are recorded against the file only.
func (p *Pipeline) processFile(ctx, storeCtx context.Context, archiveID int64, filePath string, outcome *ArchiveOutcome) {
	done, err := p.store.IsFileCompleted(storeCtx, filePath)
	if err != nil {
		p.logger.Warn("checking file completion failed", "file", filePath, "error", err)
	} else if done {
		p.logger.Info("file already processed, skipping", "file", filePath)
		outcome.FilesSkipped++
		return
	}

	p.logger.Debug("extraction started", "file", filePath)
	text, err := p.worker.Extract(ctx, filePath)

	result := FileOutcome{ArchiveID: archiveID, Path: filePath}
	if err != nil {
		result.Status = FileError
		result.Error = fmt.Sprintf("extraction error for %s: %v", filePath, err)
		p.logger.Error("extraction failed", "file", filePath, "error", err)
		outcome.FilesFailed++
	} else {
		result.Status = FileCompleted
		result.Text = text
		p.logger.Info("extraction completed", "file", filePath, "chars", len(text))
		outcome.FilesCompleted++
	}

	if err := p.store.RecordFileOutcome(storeCtx, result); err != nil {
		p.logger.Error("recording file outcome failed", "file", filePath, "error", err)
	}
	p.observer.FileProcessed(result.Status)
}

// finish persists the terminal status and diagnostic in a single write.
func (p *Pipeline) finish(ctx context.Context, outcome *ArchiveOutcome) {
	var message string
	switch outcome.Status {
	case ArchiveCompleted:
		p.logger.Info("archive completed", "archive", outcome.Path,
			"files_completed", outcome.FilesCompleted, "files_failed", outcome.FilesFailed, "files_skipped", outcome.FilesSkipped)
	case ArchiveErrorBadArchive:
		message = BadArchiveDiagnostic
		p.logger.Error("bad archive", "archive", outcome.Path, "error", outcome.Err)
	default:
		message = outcome.Err.Error()
		p.logger.Error("archive processing failed", "archive", outcome.Path, "error", outcome.Err)
	}

	if err := p.store.RecordArchiveOutcome(ctx, outcome.Path, outcome.Status, message); err != nil {
		p.logger.Error("recording archive outcome failed", "archive", outcome.Path, "status", outcome.Status, "error", err)
	}
}

// setStatus persists an intermediate status. Failures are logged only.
func (p *Pipeline) setStatus(ctx context.Context, archivePath string, status ArchiveStatus) {
	if err := p.store.RecordArchiveStatus(ctx, archivePath, status); err != nil {
		p.logger.Error("recording archive status failed", "archive", archivePath, "status", status, "error", err)
		return
	}
	p.logger.Info("archive status changed", "archive", archivePath, "status", status)
}

// cleanup removes the downloaded archive bytes.
func (p *Pipeline) cleanup(downloadPath string) {
	if err := os.Remove(downloadPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("removing downloaded archive failed", "path", downloadPath, "error", err)
		}
		return
	}
	p.logger.Info("cleaned up", "path", downloadPath)
}
