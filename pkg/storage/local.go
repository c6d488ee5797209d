package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage implements Storage using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		return nil, errors.New("local storage path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: basePath}, nil
}

// Write stores data under name. An existing file with the same name is
// never overwritten.
func (s *LocalStorage) Write(ctx context.Context, name string, contentType string, data []byte) (*FileInfo, error) {
	// The directory may have been removed since start-up.
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	stored := sanitizeFilename(name)
	filePath := filepath.Join(s.basePath, stored)

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return &FileInfo{
		Name:        stored,
		Size:        int64(len(data)),
		ContentType: contentType,
		Path:        filePath,
		CreatedAt:   time.Now(),
	}, nil
}

// Exists reports whether name is present on disk
func (s *LocalStorage) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.basePath, sanitizeFilename(name)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat file: %w", err)
}

// Read returns the content of name
func (s *LocalStorage) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, sanitizeFilename(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes name from disk
func (s *LocalStorage) Delete(ctx context.Context, name string) error {
	err := os.Remove(filepath.Join(s.basePath, sanitizeFilename(name)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Close() error { return nil }

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	// Replace path separators and other dangerous characters
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
