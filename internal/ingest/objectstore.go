package ingest

import "context"

// ObjectStore is the read side of the bucket holding client archives.
type ObjectStore interface {
	// ListPrefixes returns the common prefixes directly below prefix, split on delimiter.
	// With prefix "" and delimiter "/" these are the top-level group folders.
	ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error)

	// ListObjects returns every object key below prefix, following pagination.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Download writes the full content of key to destPath. A partially written
	// file is removed on failure. Failures that cannot succeed on retry wrap ErrPermanent.
	Download(ctx context.Context, key, destPath string) error

	// ValidateSetup verifies that the store is reachable and the bucket exists.
	ValidateSetup(ctx context.Context) error
}
