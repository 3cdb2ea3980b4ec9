package testutil

import (
	"context"
	"sync"

	"ocr-ingest/internal/ingest"
	"ocr-ingest/internal/objectstore"
)

// NewTestObjectStore creates an in-memory object store seeded with objects.
func NewTestObjectStore(objects map[string][]byte) *objectstore.MemoryStore {
	s := objectstore.NewMemoryStore()
	for k, v := range objects {
		s.Put(k, v)
	}
	return s
}

// FlakyObjectStore wraps an ObjectStore with scripted failures and counts downloads.
type FlakyObjectStore struct {
	ingest.ObjectStore

	// OnDownload, if set, runs before every download attempt.
	OnDownload func(ctx context.Context, key string)

	mu              sync.Mutex
	downloadErrs    map[string][]error
	listObjectsErrs map[string]error
	listPrefixesErr error
	downloads       map[string]int
}

func NewFlakyObjectStore(inner ingest.ObjectStore) *FlakyObjectStore {
	return &FlakyObjectStore{
		ObjectStore:     inner,
		downloadErrs:    make(map[string][]error),
		listObjectsErrs: make(map[string]error),
		downloads:       make(map[string]int),
	}
}

// FailDownload makes the next len(errs) downloads of key fail with errs, in order.
func (s *FlakyObjectStore) FailDownload(key string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadErrs[key] = append(s.downloadErrs[key], errs...)
}

// FailListObjects makes every listing of prefix fail with err.
func (s *FlakyObjectStore) FailListObjects(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listObjectsErrs[prefix] = err
}

// FailListPrefixes makes every prefix listing fail with err.
func (s *FlakyObjectStore) FailListPrefixes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listPrefixesErr = err
}

// Downloads returns how many download attempts were made for key.
func (s *FlakyObjectStore) Downloads(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[key]
}

func (s *FlakyObjectStore) ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error) {
	s.mu.Lock()
	err := s.listPrefixesErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ObjectStore.ListPrefixes(ctx, prefix, delimiter)
}

func (s *FlakyObjectStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	err := s.listObjectsErrs[prefix]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ObjectStore.ListObjects(ctx, prefix)
}

func (s *FlakyObjectStore) Download(ctx context.Context, key, destPath string) error {
	if s.OnDownload != nil {
		s.OnDownload(ctx, key)
	}

	s.mu.Lock()
	s.downloads[key]++
	var err error
	if errs := s.downloadErrs[key]; len(errs) > 0 {
		err = errs[0]
		s.downloadErrs[key] = errs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.ObjectStore.Download(ctx, key, destPath)
}
