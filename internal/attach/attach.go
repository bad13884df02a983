// Package attach stores attachment bytes in S3-compatible object
// storage. Metadata lives in Postgres; only the object body lives here.
package attach

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and ensures the bucket
// exists.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &Service{client: client, bucket: opts.Bucket}, nil
}

// Put uploads one attachment body and returns its object path. Objects
// are keyed by item so an item's files share a prefix.
func (s *Service) Put(ctx context.Context, itemID, fileName, contentType string, body io.Reader, size int64) (string, error) {
	objectPath := path.Join("qa-items", itemID, uuid.NewString()+path.Ext(fileName))
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectPath, err)
	}
	return objectPath, nil
}

// PresignedURL returns a short-lived download link for an object.
func (s *Service) PresignedURL(ctx context.Context, objectPath, fileName string) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, 15*time.Minute, params)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", objectPath, err)
	}
	return u.String(), nil
}

// Remove deletes an object. Called after the metadata row is gone, so
// a failure here leaves an orphan object, never a dangling row.
func (s *Service) Remove(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", objectPath, err)
	}
	return nil
}
