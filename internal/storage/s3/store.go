// Package s3 writes history archive batches to an S3-compatible bucket
// through minio-go.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askdb/askdb/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the part of *minio.Client the archive calls.
type bucketAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Archive stores each batch as one Parquet object under
// <prefix>/<dataset>/date=YYYY-MM-DD/hour=HH/.
type Archive struct {
	api    bucketAPI
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Archive, error) {
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	archive, err := newArchive(mc, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := archive.createBucketIfMissing(ctx, region); err != nil {
			return nil, err
		}
	}
	return archive, nil
}

func newArchive(api bucketAPI, bucket, prefix string) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
		if prefix == ".." || strings.HasPrefix(prefix, "../") {
			return nil, fmt.Errorf("archive prefix %q escapes the bucket root", prefix)
		}
	}
	return &Archive{api: api, bucket: bucket, prefix: prefix}, nil
}

// WriteBatch uploads batch.Data with the Parquet content type and the record
// count as object metadata.
func (a *Archive) WriteBatch(ctx context.Context, batch storage.Batch) (storage.StoredBatch, error) {
	if len(batch.Data) == 0 {
		return storage.StoredBatch{}, fmt.Errorf("archive batch %q has no data", batch.ID)
	}
	key, err := storage.BuildArchivePath(batch.Dataset, batch.FlushedAt, batch.ID)
	if err != nil {
		return storage.StoredBatch{}, fmt.Errorf("archive key: %w", err)
	}
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}

	info, err := a.api.PutObject(ctx, a.bucket, key, bytes.NewReader(batch.Data), int64(len(batch.Data)), minio.PutObjectOptions{
		ContentType: storage.ParquetContentType,
		UserMetadata: map[string]string{
			"askdb-dataset":      batch.Dataset,
			"askdb-record-count": strconv.Itoa(batch.Records),
		},
	})
	if err != nil {
		return storage.StoredBatch{}, fmt.Errorf("write archive batch %q: %w", key, withS3Code(err))
	}
	return storage.StoredBatch{Key: key, Size: info.Size, ETag: info.ETag}, nil
}

// Ping reports whether the archive bucket is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	exists, err := a.api.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", a.bucket, withS3Code(err))
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", a.bucket)
	}
	return nil
}

func (a *Archive) createBucketIfMissing(ctx context.Context, region string) error {
	exists, err := a.api.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", a.bucket, withS3Code(err))
	}
	if exists {
		return nil
	}
	if err := a.api.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", a.bucket, withS3Code(err))
	}
	return nil
}

// endpointHost accepts host:port or a URL. An https URL forces TLS.
func endpointHost(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

// withS3Code puts the S3 error code in front so archive failures read well
// in logs.
func withS3Code(err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) && response.Code != "" {
		return fmt.Errorf("%s: %w", response.Code, err)
	}
	return err
}
