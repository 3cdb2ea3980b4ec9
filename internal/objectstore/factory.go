package objectstore

import (
	"context"
	"fmt"

	"ocr-ingest/internal/config"
	"ocr-ingest/internal/ingest"
)

// NewObjectStoreFromConfig creates an ObjectStore implementation based on the object store config type.
func NewObjectStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (ingest.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem object store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root), nil
	case "s3":
		store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			MaxAttempts:     cfg.MaxAttempts,
			MaxConns:        cfg.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "minio":
		store, err := NewMinioStore(MinioOptions{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			MaxAttempts:     cfg.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}
