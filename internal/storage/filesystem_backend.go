package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FilesystemBackend stores blobs under a base directory that a web server exposes at publicURL.
type FilesystemBackend struct {
	basePath  string
	publicURL string
	now       func() time.Time
}

// NewFilesystemBackend creates a filesystem backend, creating the base path if needed.
func NewFilesystemBackend(basePath, publicURL string) (*FilesystemBackend, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage: filesystem backend requires a base path")
	}
	if strings.TrimSpace(publicURL) == "" {
		return nil, errors.New("storage: filesystem backend requires a public URL")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &FilesystemBackend{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}, nil
}

// Name implements Backend.
func (f *FilesystemBackend) Name() string { return "fs" }

// Owns implements Backend.
func (f *FilesystemBackend) Owns(url string) bool {
	return strings.HasPrefix(url, f.publicURL+"/")
}

// Upload writes data at key with a sidecar .meta file and returns its public URL.
// Content-addressed keys make a repeated upload a no-op rewrite.
func (f *FilesystemBackend) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	filePath := filepath.Join(f.basePath, rel)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	url := f.publicURL + "/" + filepath.ToSlash(rel)
	meta := Object{
		Key:         filepath.ToSlash(rel),
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		URL:         url,
		CreatedTime: f.now().UTC(),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filePath+".meta", metaJSON, 0o644); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	return url, nil
}
