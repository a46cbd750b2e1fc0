// Package blob stores file content under opaque keys.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store persists immutable objects. Put must make an object visible only
// after all of r has been written.
type Store interface {
	// Put writes r under key. size is -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns the object content or errs.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by config.
const (
	BackendDisk  = "disk"
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	Minio   MinioConfig
	S3      S3Config
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendDisk, "":
		return NewDisk(cfg.Dir)
	case BackendMinio:
		return NewMinio(ctx, cfg.Minio)
	case BackendS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
	}
}

func validKey(key string) error {
	if key == "" || len(key) > 200 || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return nil
}
