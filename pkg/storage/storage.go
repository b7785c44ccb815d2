package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage/minio"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage/s3"
)

// Storage abstracts the object store holding uploads, extracted images
// and processing results.
type Storage interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// New builds the configured backend. Supported types are "minio" and
// "s3".
func New(storageType string, log logger.Logger) (Storage, error) {
	switch storageType {
	case "minio":
		return minio.New(log)
	case "s3":
		return s3.New(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", storageType)
	}
}
