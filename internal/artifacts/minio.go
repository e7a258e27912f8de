package artifacts

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the S3-compatible storage settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinioUploader stores result files in an S3-compatible bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

// NewMinioUploader creates the client. It does not contact the server.
func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is not configured")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is not configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload puts the file at object name f.Key, tagging it with the job id.
func (m *MinioUploader) Upload(ctx context.Context, f File) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(f.LocalPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := m.client.FPutObject(ctx, m.bucket, f.Key, f.LocalPath, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"job-id": f.JobID},
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", f.Key, err)
	}
	return nil
}

func (m *MinioUploader) ensureBucket(ctx context.Context) error {
	m.bucketOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.bucketErr = fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
			return
		}
		if !exists {
			if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
				m.bucketErr = fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
			}
		}
	})
	return m.bucketErr
}
