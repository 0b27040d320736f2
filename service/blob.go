package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AlirezaZareeiD/hamfounder-sub000/config"
)

// BlobStore is the blob storage contract the upload and cleanup paths
// depend on. MinioService is the production implementation.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ObjectKey builds the deterministic storage path for an attachment.
// It is the single source of truth for blob naming: both the upload
// path and the detail view's reconstructed download links go through it.
func ObjectKey(projectID, attachmentID, fileName string) string {
	return fmt.Sprintf("projects/%s/documents/%s/%s_%s", projectID, attachmentID, attachmentID, fileName)
}

// ProjectPrefix is the storage prefix holding every blob of one project.
func ProjectPrefix(projectID string) string {
	return fmt.Sprintf("projects/%s/", projectID)
}

// ObjectKeyFromURL decodes the storage key out of a stored download URL
// so a removed attachment's blob can be deleted without re-deriving its
// path. Returns an error when the URL does not point into the bucket.
func ObjectKeyFromURL(raw, bucket string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse stored url: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("failed to unescape stored url path: %w", err)
	}
	key, ok := strings.CutPrefix(unescaped, bucket+"/")
	if !ok {
		return "", fmt.Errorf("url path %q is not inside bucket %q", unescaped, bucket)
	}
	if key == "" {
		return "", fmt.Errorf("url %q has no object key", raw)
	}
	return key, nil
}

type MinioService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Bucket returns the configured bucket name
func (s *MinioService) Bucket() string {
	return s.bucket
}

// Put streams an object into the bucket
func (s *MinioService) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	return nil
}

// PresignedURL generates a presigned download URL for the object
func (s *MinioService) PresignedURL(ctx context.Context, key string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return u.String(), nil
}

// Delete deletes one object
func (s *MinioService) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// DeletePrefix removes every object under the prefix and returns how
// many were deleted. Used by the cleanup worker after project deletion.
func (s *MinioService) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return deleted, fmt.Errorf("failed to list objects under %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
		deleted++
	}
	return deleted, nil
}
