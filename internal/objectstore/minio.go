package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ocr-ingest/internal/ingest"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint        string // host:port
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	MaxAttempts     int
}

// MinioStore reads archives from an S3-compatible server through minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ ingest.ObjectStore = (*MinioStore)(nil)

// NewMinioStore creates a client for opts.Bucket. No request is made until first use.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio object store requires endpoint and bucket")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:     opts.UseSSL,
		Region:     opts.Region,
		MaxRetries: opts.MaxAttempts, // zero keeps the client default
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// ListPrefixes only supports "/" as delimiter.
func (s *MinioStore) ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error) {
	if delimiter != "/" {
		return nil, fmt.Errorf("minio object store only supports the / delimiter, got %q", delimiter)
	}

	var prefixes []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, classifyMinio(fmt.Errorf("listing prefixes of %s: %w", prefix, obj.Err))
		}
		if strings.HasSuffix(obj.Key, "/") {
			prefixes = append(prefixes, obj.Key)
		}
	}
	return prefixes, nil
}

func (s *MinioStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyMinio(fmt.Errorf("listing objects of %s: %w", prefix, obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) Download(ctx context.Context, key, destPath string) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return classifyMinio(fmt.Errorf("downloading %s: %w", key, err))
	}
	defer obj.Close()

	return writeFile(destPath, func(f *os.File) error {
		if _, err := io.Copy(f, obj); err != nil {
			return classifyMinio(fmt.Errorf("downloading %s: %w", key, err))
		}
		return nil
	})
}

func (s *MinioStore) ValidateSetup(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classifyMinio(fmt.Errorf("checking bucket %s: %w", s.bucket, err))
	}
	if !ok {
		return fmt.Errorf("%w: bucket %s does not exist", ingest.ErrPermanent, s.bucket)
	}
	return nil
}

func classifyMinio(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && permanentCodes[resp.Code] {
		return fmt.Errorf("%w: %w", ingest.ErrPermanent, err)
	}
	return err
}
