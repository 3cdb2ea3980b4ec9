package ingest

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SchedulerOptions configures discovery and dispatch.
type SchedulerOptions struct {
	Root          string   // prefix below which group folders are listed, usually ""
	OutputDir     string   // local root; each monitored path gets its own subdirectory
	Categories    []string // defaults to DefaultCategories
	Subtypes      []string // defaults to DefaultSubtypes
	ArchiveSuffix string   // defaults to ".zip"
	Workers       int      // defaults to 1
}

// RunSummary counts archive outcomes of one scheduler run.
type RunSummary struct {
	Discovered int
	Completed  int
	Failed     int
	BadArchive int
	Skipped    int
}

// ArchiveProcessor handles one archive. Implemented by *Pipeline.
type ArchiveProcessor interface {
	ProcessArchive(ctx context.Context, job ArchiveJob) ArchiveOutcome
}

// Scheduler enumerates archives across monitored paths and dispatches them
// under a concurrency bound.
type Scheduler struct {
	objects   ObjectStore
	processor ArchiveProcessor
	logger    Logger
	opts      SchedulerOptions
}

// NewScheduler creates a Scheduler, filling unset options with defaults.
func NewScheduler(objects ObjectStore, processor ArchiveProcessor, logger Logger, opts SchedulerOptions) *Scheduler {
	if len(opts.Categories) == 0 {
		opts.Categories = DefaultCategories
	}
	if len(opts.Subtypes) == 0 {
		opts.Subtypes = DefaultSubtypes
	}
	if opts.ArchiveSuffix == "" {
		opts.ArchiveSuffix = ".zip"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scheduler{
		objects:   objects,
		processor: processor,
		logger:    logger,
		opts:      opts,
	}
}

// Discover returns the jobs for every archive below the monitored paths.
// A listing failure for one monitored path is logged and skipped; failing to
// list the group folders is returned as an error.
func (s *Scheduler) Discover(ctx context.Context) ([]ArchiveJob, error) {
	groups, err := s.objects.ListPrefixes(ctx, s.opts.Root, "/")
	if err != nil {
		return nil, fmt.Errorf("listing group folders: %w", err)
	}
	s.logger.Info("group folders discovered", "count", len(groups))

	seen := make(map[string]bool)
	var jobs []ArchiveJob
	for _, monitored := range MonitoredPaths(groups, s.opts.Categories, s.opts.Subtypes) {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}

		keys, err := s.objects.ListObjects(ctx, monitored)
		if err != nil {
			s.logger.Error("listing monitored path failed", "prefix", monitored, "error", err)
			continue
		}

		outputDir := ArchiveOutputDir(s.opts.OutputDir, monitored)
		for _, key := range keys {
			if isFolderMarker(key) || !HasSuffixFold(key, s.opts.ArchiveSuffix) || seen[key] {
				continue
			}
			seen[key] = true
			jobs = append(jobs, ArchiveJob{Key: key, OutputDir: outputDir})
		}
		s.logger.Debug("monitored path listed", "prefix", monitored, "objects", len(keys))
	}

	s.logger.Info("archives discovered", "count", len(jobs))
	return jobs, nil
}

// Run discovers archives and processes each one with at most Workers running
// at a time. Archive failures are counted in the summary, not returned.
func (s *Scheduler) Run(ctx context.Context) (RunSummary, error) {
	jobs, err := s.Discover(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	return s.Dispatch(ctx, jobs)
}

// Dispatch processes the given jobs under the concurrency bound.
// Jobs not yet started when ctx is cancelled are dropped and ctx's error is returned.
func (s *Scheduler) Dispatch(ctx context.Context, jobs []ArchiveJob) (RunSummary, error) {
	summary := RunSummary{Discovered: len(jobs)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := s.processor.ProcessArchive(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			summary.add(outcome)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("run finished",
		"discovered", summary.Discovered, "completed", summary.Completed,
		"failed", summary.Failed, "bad_archive", summary.BadArchive, "skipped", summary.Skipped)
	return summary, ctx.Err()
}

func (r *RunSummary) add(o ArchiveOutcome) {
	switch {
	case o.Skipped:
		r.Skipped++
	case o.Status == ArchiveCompleted:
		r.Completed++
	case o.Status == ArchiveErrorBadArchive:
		r.BadArchive++
	default:
		r.Failed++
	}
}
