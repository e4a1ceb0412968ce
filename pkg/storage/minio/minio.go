// Package minio stores queued invoice images and task results in a MinIO bucket.
package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cfg "github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type MinioStorage struct {
	client     *minio.Client
	bucketName string
	prefixes   []string
	logger     logger.Logger
}

func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		m.logger.Error("Failed to store object",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}

	m.logger.Debug("Stored object",
		logger.String("key", key),
		logger.Int64("size", info.Size),
	)
	return key, nil
}

// Get stats the object first; GetObject alone defers a missing key error to the first Read.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s not found: %w", key, err)
		}
		m.logger.Error("Failed to stat object",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return obj, nil
}

func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		m.logger.Error("Failed to delete object",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CleanupBefore removes task files and results last modified before threshold.
// Objects outside the managed prefixes are left alone.
func (m *MinioStorage) CleanupBefore(ctx context.Context, threshold time.Time) error {
	for _, prefix := range m.prefixes {
		listed := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		expired := expiredObjects(ctx, listed, threshold, m.logger)
		failures := m.client.RemoveObjects(ctx, m.bucketName, expired, minio.RemoveObjectsOptions{})

		if n := logRemoveFailures(failures, m.logger); n > 0 {
			m.logger.Warn("Cleanup left expired objects behind",
				logger.String("prefix", prefix),
				logger.Int("failed", n),
			)
		}
	}
	return nil
}

// expiredObjects forwards listed objects older than threshold and closes the
// returned channel once the listing ends.
func expiredObjects(ctx context.Context, listed <-chan minio.ObjectInfo, threshold time.Time, log logger.Logger) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range listed {
			if obj.Err != nil {
				log.Error("Failed to list objects", logger.Error(obj.Err))
				continue
			}
			if !obj.LastModified.Before(threshold) {
				continue
			}
			log.Info("Deleting expired object",
				logger.String("key", obj.Key),
				logger.Time("lastModified", obj.LastModified),
			)
			select {
			case out <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func logRemoveFailures(failures <-chan minio.RemoveObjectError, log logger.Logger) int {
	n := 0
	for f := range failures {
		n++
		log.Error("Failed to delete expired object",
			logger.String("key", f.ObjectName),
			logger.Error(f.Err),
		)
	}
	return n
}

func NewMinioStorage(ctx context.Context, minioConfig *cfg.MinioConfig, prefixes []string, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(minioConfig.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioConfig.AccessKey, minioConfig.SecretKey, ""),
		Secure: minioConfig.UseSSL,
		Region: minioConfig.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, minioConfig.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, minioConfig.BucketName, minio.MakeBucketOptions{Region: minioConfig.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("Created bucket", logger.String("bucket", minioConfig.BucketName))
	}

	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return &MinioStorage{
		client:     client,
		bucketName: minioConfig.BucketName,
		prefixes:   prefixes,
		logger:     log,
	}, nil
}
