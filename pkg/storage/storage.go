package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/storage/memory"
	"github.com/feichai0017/remi2ai/pkg/storage/minio"
	"github.com/feichai0017/remi2ai/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Key prefixes written by the invoice service. Retention cleanup only touches these.
const (
	TaskFilesPrefix = "tasks/"
	ResultsPrefix   = "results/"
)

var ManagedPrefixes = []string{TaskFilesPrefix, ResultsPrefix}

// Storage 接口定义
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, config.GetS3Config(), ManagedPrefixes, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, config.GetMinioConfig(), ManagedPrefixes, log)
	case StorageTypeMemory:
		return memory.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
