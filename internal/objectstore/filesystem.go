package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ocr-ingest/internal/ingest"
)

// FileSystemStore serves objects from a directory tree. The key of a file is
// its slash-separated path relative to root:
//
//	<root>/
//	  clientA/
//	    2/pending/ocr/batch1.zip   (key "clientA/2/pending/ocr/batch1.zip")
type FileSystemStore struct {
	root string
}

var _ ingest.ObjectStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) *FileSystemStore {
	return &FileSystemStore{root: root}
}

// keys walks the directory that can hold keys starting with prefix.
func (s *FileSystemStore) keys(ctx context.Context, prefix string) ([]string, error) {
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == start {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSystemStore) ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error) {
	keys, err := s.keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return commonPrefixes(keys, prefix, delimiter), nil
}

func (s *FileSystemStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return s.keys(ctx, prefix)
}

func (s *FileSystemStore) Download(ctx context.Context, key, destPath string) error {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("%w: invalid key: %s", ingest.ErrPermanent, key)
	}

	src, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: object not found: %s", ingest.ErrPermanent, key)
		}
		return fmt.Errorf("failed to open object: %w", err)
	}
	defer src.Close()

	return writeFile(destPath, func(f *os.File) error {
		if _, err := io.Copy(f, readerWithContext{ctx: ctx, r: src}); err != nil {
			return fmt.Errorf("failed to copy object: %w", err)
		}
		return nil
	})
}

// ValidateSetup verifies that the root directory is accessible.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("object store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("object store root is not a directory: %s", s.root)
	}
	return nil
}

// readerWithContext stops a copy once ctx is done.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
