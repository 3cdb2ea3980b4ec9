package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"ocr-ingest/internal/ingest"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // S3-compatible endpoint; path-style addressing is used when set
	AccessKeyID     string // static credentials; the default chain is used when empty
	SecretAccessKey string
	MaxAttempts     int // SDK-level retries per request
	MaxConns        int // connection pool size per host
}

// S3Store reads archives from an S3 bucket.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
}

var _ ingest.ObjectStore = (*S3Store)(nil)

// NewS3Store loads the AWS configuration and creates a client for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 object store requires a bucket")
	}

	httpClient := awshttp.NewBuildableClient()
	if opts.MaxConns > 0 {
		httpClient = httpClient.WithTransportOptions(func(tr *http.Transport) {
			tr.MaxConnsPerHost = opts.MaxConns
			tr.MaxIdleConnsPerHost = opts.MaxConns
		})
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.MaxAttempts))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     opts.Bucket,
	}, nil
}

func (s *S3Store) ListPrefixes(ctx context.Context, prefix, delimiter string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	})

	var prefixes []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(fmt.Errorf("listing prefixes of %s: %w", prefix, err))
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}
	return prefixes, nil
}

func (s *S3Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(fmt.Errorf("listing objects of %s: %w", prefix, err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Store) Download(ctx context.Context, key, destPath string) error {
	return writeFile(destPath, func(f *os.File) error {
		_, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyS3(fmt.Errorf("downloading %s: %w", key, err))
		}
		return nil
	})
}

// ValidateSetup verifies that the bucket exists and is reachable with the configured credentials.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return classifyS3(fmt.Errorf("checking bucket %s: %w", s.bucket, err))
	}
	return nil
}

// permanentCodes are S3 error codes that no retry can fix.
var permanentCodes = map[string]bool{
	"NoSuchKey":          true,
	"NotFound":           true,
	"NoSuchBucket":       true,
	"AccessDenied":       true,
	"Forbidden":          true,
	"InvalidObjectState": true,
}

func classifyS3(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %w", ingest.ErrPermanent, err)
	}
	return err
}
