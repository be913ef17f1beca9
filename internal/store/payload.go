package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // gs:// driver
	_ "gocloud.dev/blob/s3blob"  // s3:// driver
	"gocloud.dev/gcerrors"
)

// PayloadConfig configures the payload blob backend.
type PayloadConfig struct {
	Backend string `yaml:"backend"` // "local" | "gcs" | "s3"

	LocalDir string `yaml:"local_dir"`

	GCSBucket string `yaml:"gcs_bucket"`

	S3Bucket   string `yaml:"s3_bucket"`
	S3Endpoint string `yaml:"s3_endpoint"` // custom endpoint for MinIO/R2/B2
	S3Region   string `yaml:"s3_region"`

	Prefix string `yaml:"prefix"` // path prefix within bucket or local dir
}

// PayloadStore writes content-addressed payload blobs, one subtree per
// asset type, filename derived from pkhash. Writes go to a temp key
// first and are finalized only after the record insert succeeds.
type PayloadStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

// OpenPayloadStore opens a payload store for the configured backend.
func OpenPayloadStore(ctx context.Context, cfg PayloadConfig) (*PayloadStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		bucket, err := fileblob.OpenBucket(cfg.LocalDir, &fileblob.Options{CreateDir: true})
		if err != nil {
			return nil, fmt.Errorf("open local bucket %s: %w", cfg.LocalDir, err)
		}
		return &PayloadStore{bucket: bucket, scheme: "file", name: cfg.LocalDir, prefix: cfg.Prefix}, nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", cfg.GCSBucket))
		if err != nil {
			return nil, fmt.Errorf("open GCS bucket %s: %w", cfg.GCSBucket, err)
		}
		return &PayloadStore{bucket: bucket, scheme: "gs", name: cfg.GCSBucket, prefix: cfg.Prefix}, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		url := fmt.Sprintf("s3://%s?region=%s", cfg.S3Bucket, cfg.S3Region)
		if cfg.S3Endpoint != "" {
			url += fmt.Sprintf("&endpoint=%s&s3ForcePathStyle=true", cfg.S3Endpoint)
		}
		bucket, err := blob.OpenBucket(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("open S3 bucket %s: %w", cfg.S3Bucket, err)
		}
		return &PayloadStore{bucket: bucket, scheme: "s3", name: cfg.S3Bucket, prefix: cfg.Prefix}, nil
	default:
		return nil, fmt.Errorf("unknown payload backend: %s", cfg.Backend)
	}
}

// NewPayloadStore wraps an already-open bucket. Used by tests with
// memblob buckets.
func NewPayloadStore(bucket *blob.Bucket, prefix string) *PayloadStore {
	return &PayloadStore{bucket: bucket, scheme: "mem", name: "test", prefix: prefix}
}

// PayloadKey returns the canonical blob key for an asset's payload.
func (s *PayloadStore) PayloadKey(assetType AssetType, pkhash string) string {
	return fmt.Sprintf("%s%s/%s", s.prefix, assetType, pkhash)
}

// DescriptionKey returns the canonical blob key for an asset's
// description.
func (s *PayloadStore) DescriptionKey(assetType AssetType, pkhash string) string {
	return s.PayloadKey(assetType, pkhash) + ".desc"
}

// URI returns the canonical storage address for a key. This is the
// address recorded on the ledger for peer fetches.
func (s *PayloadStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, key)
}

// WriteTemp writes data to a temporary key next to the canonical one.
// Returns the temp key for Finalize or Abort.
func (s *PayloadStore) WriteTemp(ctx context.Context, key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	if err := s.bucket.WriteAll(ctx, tempKey, data, nil); err != nil {
		return "", fmt.Errorf("write temp blob %s: %w", tempKey, err)
	}
	return tempKey, nil
}

// Finalize moves a temp blob to its canonical key. For object stores
// this is copy + delete; fileblob does the same under the hood.
func (s *PayloadStore) Finalize(ctx context.Context, tempKey, key string) error {
	if err := s.bucket.Copy(ctx, key, tempKey, nil); err != nil {
		return fmt.Errorf("finalize %s -> %s: %w", tempKey, key, err)
	}
	if err := s.bucket.Delete(ctx, tempKey); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("remove temp %s: %w", tempKey, err)
	}
	return nil
}

// Abort removes temp blobs without publishing. Best effort.
func (s *PayloadStore) Abort(ctx context.Context, tempKeys ...string) {
	for _, key := range tempKeys {
		if key == "" {
			continue
		}
		_ = s.bucket.Delete(ctx, key)
	}
}

// Write stores data directly at the canonical key. Used by the
// cache-fill path where content is already ledger-verified.
func (s *PayloadStore) Write(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

// Read returns the blob bytes at key, or ErrNotFound.
func (s *PayloadStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the blob at key. Missing blobs are not an error.
func (s *PayloadStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// Close releases the bucket.
func (s *PayloadStore) Close() error {
	return s.bucket.Close()
}
