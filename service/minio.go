package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AnTengye/contractrisk/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStage stages selected documents in a MINIO bucket
type MinioStage struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

var _ FileStage = (*MinioStage)(nil)

func NewMinioStage(cfg *config.MinioConfig) (*MinioStage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioStage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioStage) EnsureBucket(ctx context.Context) error {
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

// Put stores a staged file under key
func (s *MinioStage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}

	slog.Debug("file staged", "url", s.ObjectURL(key), "size", size)
	return nil
}

// Open streams a staged file back
func (s *MinioStage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing object now
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}

	return obj, nil
}

// Delete removes a staged file
func (s *MinioStage) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}

	return nil
}

// ObjectURL returns where a staged object lives, for logs
func (s *MinioStage) ObjectURL(key string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, key)
}
