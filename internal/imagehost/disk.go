package imagehost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const PathPrefix = "/media/"

// DiskStore keeps images under a root directory. They are served by the
// media handler below PathPrefix.
type DiskStore struct {
	rootDir string
	baseURL string
}

func NewDiskStore(rootDir, baseURL string) (*DiskStore, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("image root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image root directory: %w", err)
	}
	return &DiskStore{rootDir: rootDir, baseURL: baseURL}, nil
}

func (s *DiskStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	absPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "image-write-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary image file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return "", fmt.Errorf("writing image file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temporary image file: %w", err)
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		return "", fmt.Errorf("finalizing image file: %w", err)
	}

	return PublicURL(s.baseURL, key), nil
}

func (s *DiskStore) Remove(_ context.Context, key string) error {
	absPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting image file: %w", err)
	}
	return nil
}

// Open returns the stored file for key.
func (s *DiskStore) Open(key string) (*os.File, error) {
	absPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

func (s *DiskStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.rootDir, clean), nil
}

// PublicURL joins baseURL, PathPrefix and key.
func PublicURL(baseURL, key string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return baseURL + PathPrefix + strings.TrimLeft(key, "/")
}
