// Package storage provides blob storage for raw uploaded files with local,
// S3 and gocloud bucket implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a named blob does not exist.
var ErrNotFound = errors.New("blob not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Backend-specific location
	CreatedAt   time.Time `json:"created_at"`
}

// Storage defines the interface for blob storage operations. Names are flat
// keys; callers are responsible for making them unique.
type Storage interface {
	// Write stores data under name, creating the destination if needed.
	Write(ctx context.Context, name string, contentType string, data []byte) (*FileInfo, error)

	// Exists reports whether name has been written.
	Exists(ctx context.Context, name string) (bool, error)

	// Read returns the full content of name.
	Read(ctx context.Context, name string) ([]byte, error)

	// Delete removes name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal  StorageType = "local"
	StorageTypeS3     StorageType = "s3"
	StorageTypeBucket StorageType = "bucket"
)

// Config holds storage configuration
type Config struct {
	Type StorageType `yaml:"type"`

	// Local storage config
	LocalPath string `yaml:"local_path"`

	// S3 storage config
	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)

	// Bucket storage config, e.g. file:///var/uploads, mem://, s3://bucket?region=eu-west-1
	BucketURL string `yaml:"bucket_url"`
}

// New creates a new Storage implementation based on configuration
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeS3:
		return NewS3Storage(ctx, cfg)
	case StorageTypeBucket:
		return NewBucketStorage(ctx, cfg.BucketURL)
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
