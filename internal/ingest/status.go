package ingest

import "time"

// ArchiveStatus is the persisted state of an archive in the progress store.
type ArchiveStatus string

const (
	ArchiveDownloading     ArchiveStatus = "downloading"
	ArchiveExtracting      ArchiveStatus = "extracting"
	ArchiveCompleted       ArchiveStatus = "completed"
	ArchiveError           ArchiveStatus = "error"
	ArchiveErrorBadArchive ArchiveStatus = "error_bad_archive"
)

// InProgress reports whether the status marks an archive a worker is currently handling.
func (s ArchiveStatus) InProgress() bool {
	return s == ArchiveDownloading || s == ArchiveExtracting
}

// FileStatus is the persisted outcome of one extraction attempt.
type FileStatus string

const (
	FileCompleted FileStatus = "completed"
	FileError     FileStatus = "error"
)

// BadArchiveDiagnostic is stored as error_data for archives that fail to open as a container.
const BadArchiveDiagnostic = "bad_archive"

// Archive is a row of the zips table.
type Archive struct {
	ID        int64
	Path      string
	Status    ArchiveStatus
	ErrorData string
	UpdatedAt time.Time
}

// File is a row of the files table.
type File struct {
	ID        int64
	ArchiveID int64
	Path      string
	Text      string
	Status    FileStatus
	ErrorData string
	UpdatedAt time.Time
}

// FileOutcome is the result of one extraction attempt, written with a single upsert.
// Text is only stored for FileCompleted and Error only for FileError.
type FileOutcome struct {
	ArchiveID int64
	Path      string
	Text      string
	Status    FileStatus
	Error     string
}

// Run is a row of the runs table: one mutating CLI invocation.
type Run struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}
