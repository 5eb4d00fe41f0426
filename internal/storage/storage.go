// Package storage provides key-addressed blob stores for job inputs and results.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// Store reads and writes objects in a single bucket.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get opens the object stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Put stores the content of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Name identifies the backend for logging.
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // memory, local, s3, gcs
	Bucket   string
	LocalDir string

	S3  S3Config
	GCS GCSConfig
}

// Open builds the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemory(), nil
	case "local":
		return NewLocal(cfg.LocalDir)
	case "s3":
		return NewS3(ctx, cfg.Bucket, cfg.S3)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q (supported: memory, local, s3, gcs)", cfg.Backend)
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("empty object key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q must not start with /", key)
	}
	return nil
}
