package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore persists frame images and source videos keyed by an opaque path.
type ObjectStore interface {
	// Put stores data under key and returns a URL that addresses it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// DiskStore is an ObjectStore rooted at a local directory.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates a store under root. URLs returned by Put are baseURL
// joined with the key; an empty baseURL yields file paths.
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root '%s': %w", root, err)
	}
	return &DiskStore{root: filepath.Clean(root), baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put writes data atomically: a temp file in the target directory is renamed
// into place so readers never observe a partial object.
func (s *DiskStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close object %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to move object %s into place: %w", key, err)
	}

	return s.url(key, path), nil
}

// Get reads the object stored under key.
func (s *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *DiskStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DiskStore) url(key, path string) string {
	if s.baseURL == "" {
		return path
	}
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}
