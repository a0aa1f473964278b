package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultMirrorMaxBytes bounds a single mirrored download.
const DefaultMirrorMaxBytes = 20 << 20

var signedQueryKeys = []string{
	"x-amz-signature",
	"x-amz-expires",
	"x-amz-credential",
	"x-goog-signature",
	"signature",
	"expires",
	"sig",
	"token",
}

// IsSigned reports whether rawURL carries a signature or expiry query parameter.
func IsSigned(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return false
	}
	for key := range u.Query() {
		lower := strings.ToLower(key)
		for _, k := range signedQueryKeys {
			if lower == k {
				return true
			}
		}
	}
	return false
}

// Mirror copies remote objects into a Backend so they outlive signed links.
type Mirror struct {
	backend  Backend
	client   *http.Client
	maxBytes int64
	logger   *log.Logger
}

// MirrorOption customises a Mirror.
type MirrorOption func(*Mirror)

// WithHTTPClient overrides the download client.
func WithHTTPClient(c *http.Client) MirrorOption {
	return func(m *Mirror) {
		if c != nil {
			m.client = c
		}
	}
}

// WithMaxBytes bounds the size of a mirrored object.
func WithMaxBytes(n int64) MirrorOption {
	return func(m *Mirror) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithMirrorLogger sets the logger.
func WithMirrorLogger(l *log.Logger) MirrorOption {
	return func(m *Mirror) { m.logger = l }
}

// NewMirror returns a Mirror writing into backend.
func NewMirror(backend Backend, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		backend:  backend,
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMirrorMaxBytes,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Mirror downloads rawURL and uploads it, returning the durable URL.
// URLs already served by the backend are returned unchanged.
func (m *Mirror) Mirror(ctx context.Context, rawURL string) (string, error) {
	if m == nil || m.backend == nil {
		return "", ErrNotConfigured
	}
	if m.backend.Owns(rawURL) {
		return rawURL, nil
	}
	data, contentType, err := m.Download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	key := KeyFor("mirror", data, filenameFromURL(rawURL, contentType))
	durable, err := m.backend.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}
	m.logf("storage: mirrored %s object to %s", m.backend.Name(), durable)
	return durable, nil
}

// Download fetches rawURL, enforcing the size bound.
func (m *Mirror) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("storage: download %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read body: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", errors.New("storage: object exceeds mirror size limit")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

func filenameFromURL(rawURL, contentType string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "/" || name == "." {
		name = "object"
	}
	if path.Ext(name) == "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				name += exts[0]
			}
		}
	}
	return name
}
