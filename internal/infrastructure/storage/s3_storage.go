// Package storage keeps quarantined deal documents in object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dealsync/backend/internal/domain/dealsync"
	infraconfig "github.com/dealsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Errors for quarantine storage
var (
	ErrStorageConfigRequired = errors.New("storage: configuration is required")
	ErrBucketRequired        = errors.New("storage: bucket is required")
	ErrCredentialsRequired   = errors.New("storage: access key and secret key are required")
	ErrKeyRequired           = errors.New("storage: key is required")
	ErrObjectNotFound        = errors.New("storage: object not found")
)

// DefaultPrefix is the key prefix used when none is configured
const DefaultPrefix = "quarantine"

// Ensure S3QuarantineStore implements QuarantineStore
var _ dealsync.QuarantineStore = (*S3QuarantineStore)(nil)

// S3QuarantineStore implements dealsync.QuarantineStore using AWS S3 SDK v2.
// It is compatible with any S3-compatible storage (AWS S3, RustFS, MinIO, etc.)
type S3QuarantineStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// S3QuarantineStoreOption is a functional option for configuring S3QuarantineStore
type S3QuarantineStoreOption func(*S3QuarantineStore)

// WithLogger sets a custom logger for S3QuarantineStore
func WithLogger(logger *zap.Logger) S3QuarantineStoreOption {
	return func(s *S3QuarantineStore) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for the date segment of object keys
func WithClock(now func() time.Time) S3QuarantineStoreOption {
	return func(s *S3QuarantineStore) {
		s.now = now
	}
}

// NewS3QuarantineStore creates a new S3QuarantineStore from configuration.
func NewS3QuarantineStore(cfg *infraconfig.StorageConfig, opts ...S3QuarantineStoreOption) (*S3QuarantineStore, error) {
	if cfg == nil {
		return nil, ErrStorageConfigRequired
	}
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrCredentialsRequired
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (not used for static credentials)
		)),
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create AWS config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("storage: invalid endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	store := &S3QuarantineStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// ObjectKey builds "<prefix>/<partition>/<yyyy-mm-dd>/<key>.json". Path
// separators inside partition or key are escaped so each stays one segment.
func ObjectKey(prefix, partition, key string, at time.Time) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return path.Join(
		prefix,
		url.PathEscape(partition),
		at.UTC().Format(dealsync.DateLayout),
		url.PathEscape(key)+".json",
	)
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *S3QuarantineStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("storage: failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating quarantine bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("storage: failed to create bucket: %w", err)
	}
	return nil
}

// Put stores a quarantined payload and returns its object key
func (s *S3QuarantineStore) Put(ctx context.Context, partition, key string, payload io.Reader) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}

	// The SDK needs a seekable body to sign and checksum over plain http.
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", fmt.Errorf("storage: failed to read payload: %w", err)
	}

	objectKey := ObjectKey(s.prefix, partition, key, s.now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("storage: failed to put %s: %w", objectKey, err)
	}

	s.logger.Debug("Quarantined deal document",
		zap.String("bucket", s.bucket),
		zap.String("key", objectKey),
		zap.Int("bytes", len(data)))
	return objectKey, nil
}

// Get reads a quarantined payload back by its object key
func (s *S3QuarantineStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	if objectKey == "" {
		return nil, ErrKeyRequired
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: failed to get %s: %w", objectKey, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// Bucket returns the bucket name
func (s *S3QuarantineStore) Bucket() string {
	return s.bucket
}
