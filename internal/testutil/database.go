package testutil

import (
	"context"
	"testing"
	"time"

	"ocr-ingest/internal/database"
	"ocr-ingest/internal/ingest"
)

// NewTestStore creates a new in-memory progress store with the schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock ingest.Clock) ingest.ProgressStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// FailingStore wraps a ProgressStore and fails selected operations.
// A nil error field lets the call through.
type FailingStore struct {
	ingest.ProgressStore

	IsArchiveCompletedErr   error
	ClaimArchiveErr         error
	RecordArchiveStatusErr  error
	RecordArchiveOutcomeErr error
	RegisterArchiveErr      error
	IsFileCompletedErr      error
	RecordFileOutcomeErr    error
}

func (s *FailingStore) IsArchiveCompleted(ctx context.Context, path string) (bool, error) {
	if s.IsArchiveCompletedErr != nil {
		return false, s.IsArchiveCompletedErr
	}
	return s.ProgressStore.IsArchiveCompleted(ctx, path)
}

func (s *FailingStore) ClaimArchive(ctx context.Context, path string, now, staleBefore time.Time, force bool) (bool, error) {
	if s.ClaimArchiveErr != nil {
		return false, s.ClaimArchiveErr
	}
	return s.ProgressStore.ClaimArchive(ctx, path, now, staleBefore, force)
}

func (s *FailingStore) RecordArchiveStatus(ctx context.Context, path string, status ingest.ArchiveStatus) error {
	if s.RecordArchiveStatusErr != nil {
		return s.RecordArchiveStatusErr
	}
	return s.ProgressStore.RecordArchiveStatus(ctx, path, status)
}

func (s *FailingStore) RecordArchiveOutcome(ctx context.Context, path string, status ingest.ArchiveStatus, message string) error {
	if s.RecordArchiveOutcomeErr != nil {
		return s.RecordArchiveOutcomeErr
	}
	return s.ProgressStore.RecordArchiveOutcome(ctx, path, status, message)
}

func (s *FailingStore) RegisterArchive(ctx context.Context, path string) (int64, error) {
	if s.RegisterArchiveErr != nil {
		return 0, s.RegisterArchiveErr
	}
	return s.ProgressStore.RegisterArchive(ctx, path)
}

func (s *FailingStore) IsFileCompleted(ctx context.Context, path string) (bool, error) {
	if s.IsFileCompletedErr != nil {
		return false, s.IsFileCompletedErr
	}
	return s.ProgressStore.IsFileCompleted(ctx, path)
}

func (s *FailingStore) RecordFileOutcome(ctx context.Context, outcome ingest.FileOutcome) error {
	if s.RecordFileOutcomeErr != nil {
		return s.RecordFileOutcomeErr
	}
	return s.ProgressStore.RecordFileOutcome(ctx, outcome)
}
