package ingest

import "errors"

var (
	// ErrBadArchive marks an archive that cannot be opened as a valid container.
	// It is permanent until the source object is replaced.
	ErrBadArchive = errors.New("bad archive")

	// ErrPermanent marks object store failures that will not succeed on retry
	// (missing key, missing bucket, access denied).
	ErrPermanent = errors.New("permanent object store failure")

	// ErrStoreUnavailable marks progress store connectivity failures.
	ErrStoreUnavailable = errors.New("progress store unavailable")
)
