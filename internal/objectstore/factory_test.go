package objectstore

import (
	"context"
	"testing"

	"ocr-ingest/internal/config"
)

func TestNewObjectStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObjectStoreConfig
		wantErr bool
	}{
		{
			name: "memory store",
			cfg:  config.ObjectStoreConfig{Type: "memory"},
		},
		{
			name: "filesystem store",
			cfg:  config.ObjectStoreConfig{Type: "filesystem", Root: "/tmp/bucket"},
		},
		{
			name:    "filesystem store without root",
			cfg:     config.ObjectStoreConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name: "s3 store",
			cfg:  config.ObjectStoreConfig{Type: "s3", Bucket: "archives", Region: "sa-east-1", AccessKeyID: "k", SecretAccessKey: "s"},
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.ObjectStoreConfig{Type: "s3", Region: "sa-east-1"},
			wantErr: true,
		},
		{
			name: "minio store",
			cfg:  config.ObjectStoreConfig{Type: "minio", Endpoint: "localhost:9000", Bucket: "archives"},
		},
		{
			name:    "minio store without endpoint",
			cfg:     config.ObjectStoreConfig{Type: "minio", Bucket: "archives"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.ObjectStoreConfig{Type: "ftp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewObjectStoreFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewObjectStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && got != nil {
				t.Error("NewObjectStoreFromConfig() should return nil on error")
			}
			if !tt.wantErr && got == nil {
				t.Error("NewObjectStoreFromConfig() returned nil")
			}
		})
	}
}
