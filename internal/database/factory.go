package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ocr-ingest/internal/config"
	"ocr-ingest/internal/ingest"
)

// NewProgressStoreFromConfig creates a ProgressStore implementation based on the database config type.
// The schema is not created; call Migrate on the result.
func NewProgressStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, clock ingest.Clock) (ingest.ProgressStore, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.Host == "" || cfg.Name == "" {
			return nil, fmt.Errorf("host and name required for postgres database")
		}
		store, err := ConnectPostgres(ctx, cfg.URL(), cfg.MaxConns, clock)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return openSQLite(filepath.Join(cfg.DataDir, "ingest.db"), clock)
	case "memory":
		return openSQLite(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func openSQLite(path string, clock ingest.Clock) (ingest.ProgressStore, error) {
	store, err := NewSQLiteStore(path, clock)
	if err != nil {
		return nil, err
	}
	return store, nil
}
