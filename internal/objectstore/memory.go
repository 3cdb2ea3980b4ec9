package objectstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"ocr-ingest/internal/ingest"
)

// MemoryStore is an in-memory implementation of the ObjectStore interface.
// It is safe for concurrent use.
type MemoryStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

var _ ingest.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores data under key, replacing any previous object.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

func (m *MemoryStore) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return commonPrefixes(m.keys(), prefix, delimiter), nil
}

func (m *MemoryStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range m.keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Download(ctx context.Context, key, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: object not found: %s", ingest.ErrPermanent, key)
	}

	return writeFile(destPath, func(f *os.File) error {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
		return nil
	})
}

func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}
