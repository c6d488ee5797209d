package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BucketStorage implements Storage on top of a gocloud.dev bucket opened
// from a URL (file://, mem://, s3://).
type BucketStorage struct {
	url    string
	bucket *blob.Bucket
}

// NewBucketStorage opens the bucket and checks it is reachable.
func NewBucketStorage(ctx context.Context, bucketURL string) (*BucketStorage, error) {
	if bucketURL == "" {
		return nil, errors.New("bucket url is required")
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}

	ok, err := bucket.IsAccessible(ctx)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to check bucket accessibility %s: %w", bucketURL, err)
	}
	if !ok {
		bucket.Close()
		return nil, fmt.Errorf("bucket %s is not accessible", bucketURL)
	}

	return &BucketStorage{url: bucketURL, bucket: bucket}, nil
}

func (s *BucketStorage) Write(ctx context.Context, name string, contentType string, data []byte) (*FileInfo, error) {
	err := s.bucket.WriteAll(ctx, name, data, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to write blob %s: %w", name, err)
	}

	return &FileInfo{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Path:        s.url + "/" + name,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *BucketStorage) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check if blob %s exists: %w", name, err)
	}
	return ok, nil
}

func (s *BucketStorage) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, name)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}

func (s *BucketStorage) Delete(ctx context.Context, name string) error {
	err := s.bucket.Delete(ctx, name)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete blob %s: %w", name, err)
	}
	return nil
}

func (s *BucketStorage) Close() error {
	return s.bucket.Close()
}
