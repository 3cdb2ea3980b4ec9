package ingest

import (
	"context"
	"time"
)

// ProgressStore is the durable record of archive and file processing state.
// It is the sole source of truth for idempotency: every mutation is a
// single-row upsert keyed by a unique path.
type ProgressStore interface {
	// Archive operations

	// RecordArchiveStatus upserts the status of an archive, leaving error_data untouched.
	RecordArchiveStatus(ctx context.Context, path string, status ArchiveStatus) error

	// RecordArchiveError upserts the diagnostic of an archive, leaving status untouched.
	RecordArchiveError(ctx context.Context, path string, message string) error

	// RecordArchiveOutcome upserts status and diagnostic together in one statement.
	// An empty message clears the stored diagnostic.
	RecordArchiveOutcome(ctx context.Context, path string, status ArchiveStatus, message string) error

	// IsArchiveCompleted reports whether the stored status is ArchiveCompleted.
	IsArchiveCompleted(ctx context.Context, path string) (bool, error)

	// ClaimArchive moves the archive to ArchiveDownloading and clears its diagnostic
	// unless it is completed or another worker holds it: an archive is held when
	// its status is in progress and it was last written at or after staleBefore.
	// force takes the archive in either case. Returns false when the claim was refused.
	ClaimArchive(ctx context.Context, path string, now, staleBefore time.Time, force bool) (bool, error)

	// RegisterArchive returns the id of the archive, inserting it with status
	// ArchiveExtracting if absent. Concurrent calls for one path return the same id.
	RegisterArchive(ctx context.Context, path string) (int64, error)

	// FindArchive returns the archive with the given path, or nil if absent.
	FindArchive(ctx context.Context, path string) (*Archive, error)

	// CountArchivesByStatus returns the number of archives per stored status.
	CountArchivesByStatus(ctx context.Context) (map[ArchiveStatus]int, error)

	// PurgeArchive deletes the archive and, by cascade, its files.
	// Returns false if no archive had that path.
	PurgeArchive(ctx context.Context, path string) (bool, error)

	// File operations

	// RecordFileOutcome upserts the file row keyed by path.
	RecordFileOutcome(ctx context.Context, outcome FileOutcome) error

	// IsFileCompleted reports whether the stored status of the file is FileCompleted.
	IsFileCompleted(ctx context.Context, path string) (bool, error)

	// ListArchiveFiles returns the files produced by an archive, ordered by path.
	ListArchiveFiles(ctx context.Context, archiveID int64) ([]*File, error)

	// Run tracking

	// CreateRun records the start of a CLI operation and returns its id.
	CreateRun(ctx context.Context, operation, parameters string, startedAt time.Time) (int64, error)

	// FinishRun records the end of a CLI operation.
	FinishRun(ctx context.Context, id int64, status string, finishedAt time.Time) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Migrate creates the schema if it is absent.
	Migrate(ctx context.Context) error

	// CheckSchema returns an error unless the schema is at the latest version.
	CheckSchema(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error
}
