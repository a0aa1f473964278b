package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrNotConfigured is returned by NewBackend when no durable storage is configured.
var ErrNotConfigured = errors.New("storage: no backend configured")

// Uploader stores bytes durably and returns a URL that stays valid.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Backend is an Uploader that can recognise URLs it already serves.
type Backend interface {
	Uploader

	// Name identifies the backend in logs.
	Name() string

	// Owns reports whether url points into this backend.
	Owns(url string) bool
}

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	URL         string    `json:"url"`
	CreatedTime time.Time `json:"created_time"`
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// KeyFor derives a content-addressed key: <prefix>/<sha256[:2]>/<sha256>/<safe filename>.
// Identical bytes map to the same key so repeated runs never duplicate blobs.
func KeyFor(prefix string, data []byte, filename string) string {
	sum := Checksum(data)
	name := unsafeKeyChars.ReplaceAllString(path.Base(strings.TrimSpace(filename)), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "blob"
	}
	return path.Join(strings.Trim(prefix, "/"), sum[:2], sum, name)
}

// Options selects and configures a backend.
type Options struct {
	Type string

	FSPath      string
	FSPublicURL string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3PublicURL string
	S3AccessKey string
	S3SecretKey string
}

// NewBackend builds the configured backend. It returns ErrNotConfigured for type "" or "none".
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case "", "none":
		return nil, ErrNotConfigured
	case "fs", "filesystem", "local":
		return NewFilesystemBackend(opts.FSPath, opts.FSPublicURL)
	case "s3":
		return NewS3Backend(ctx, S3Options{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			Prefix:    opts.S3Prefix,
			PublicURL: opts.S3PublicURL,
			AccessKey: opts.S3AccessKey,
			SecretKey: opts.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("storage: unknown backend type %q", opts.Type)
	}
}
