package s3store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"counseling/internal/config"
	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

var _ ports.Storage = (*Store)(nil)

// Store keeps recordings in one bucket of an S3-compatible object store.
type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg config.Storage) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Ctx(ctx).Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

func (s *Store) UploadURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	// content type is bound by the client on upload; presigned PUTs do not sign it.
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expires)
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	log.Ctx(ctx).Debug().Str("key", key).Str("content_type", contentType).Msg("upload url issued")
	return u.String(), nil
}

func (s *Store) DownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Stat(ctx context.Context, key string) (ports.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ports.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, mapErr(err))
	}
	return ports.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified.UTC(),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, resp.Message)
	}
	return err
}
