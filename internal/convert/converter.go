// Package convert translates between mail HTML and workspace blocks in both directions.
// Conversion is total: malformed input degrades to paragraphs, it never fails the caller.
package convert

import (
	"context"
	"log"
	"strings"

	"github.com/gotrs-io/casesync/internal/storage"
	"github.com/gotrs-io/casesync/internal/utils"
)

const (
	// DefaultInlineMaxBytes is the largest inline image embedded as a data URL when no
	// object storage is configured.
	DefaultInlineMaxBytes = 40 * 1024

	// DefaultFetchConcurrency bounds parallel uploads and mirrors for one message.
	DefaultFetchConcurrency = 5

	// MaxURLLength is the longest link or image URL the workspace accepts.
	MaxURLLength = 2000

	// MaxTextParagraphRunes bounds a paragraph cut from a plain-text body.
	MaxTextParagraphRunes = 1800

	// PreviousThreadTitle labels the toggle that collapses quoted history.
	PreviousThreadTitle = "Previous thread"

	// DefaultToggleSummary is used for toggles parsed without a summary.
	DefaultToggleSummary = "Details"
)

// PlainTextMode selects how text/plain bodies become blocks.
type PlainTextMode string

const (
	PlainTextParagraphs PlainTextMode = "paragraphs"
	PlainTextMarkdown   PlainTextMode = "markdown"
)

// InlinePart is a MIME part referenced from HTML through a cid: URL.
type InlinePart struct {
	ContentID   string
	ContentType string
	Filename    string
	Data        []byte
}

// InlineParts indexes inline parts by normalised content id.
type InlineParts map[string]InlinePart

// Add stores part under its normalised content id.
func (p InlineParts) Add(part InlinePart) {
	if id := NormalizeContentID(part.ContentID); id != "" {
		p[id] = part
	}
}

// Lookup resolves a content id in any of its spellings (bracketed, cid: prefixed, escaped).
func (p InlineParts) Lookup(ref string) (InlinePart, bool) {
	part, ok := p[NormalizeContentID(ref)]
	return part, ok
}

// NormalizeContentID lowercases a content id and strips the cid: scheme and angle brackets.
func NormalizeContentID(ref string) string {
	id := strings.TrimSpace(ref)
	if len(id) >= 4 && strings.EqualFold(id[:4], "cid:") {
		id = id[4:]
	}
	id = strings.TrimSpace(strings.Trim(id, "<>"))
	return strings.ToLower(unescapePath(id))
}

// Mirrorer copies a remote object to durable storage.
type Mirrorer interface {
	Mirror(ctx context.Context, rawURL string) (string, error)
}

// Converter holds the collaborators shared by both conversion directions.
type Converter struct {
	logger         *log.Logger
	sanitizer      *utils.HTMLSanitizer
	uploader       storage.Uploader
	mirror         Mirrorer
	mirrorRemote   bool
	inlineMaxBytes int
	concurrency    int
	textMode       PlainTextMode
}

// Option customises a Converter.
type Option func(*Converter)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUploader enables durable storage for inline images.
func WithUploader(u storage.Uploader) Option {
	return func(c *Converter) { c.uploader = u }
}

// WithMirror enables mirroring of ephemeral image URLs.
// When mirrorRemote is set, inbound http(s) images are mirrored as well.
func WithMirror(m Mirrorer, mirrorRemote bool) Option {
	return func(c *Converter) {
		c.mirror = m
		c.mirrorRemote = mirrorRemote
	}
}

// WithInlineMaxBytes sets the data URL embed threshold.
func WithInlineMaxBytes(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.inlineMaxBytes = n
		}
	}
}

// WithConcurrency bounds parallel image resolution.
func WithConcurrency(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPlainTextMode selects paragraph splitting or markdown rendering for text bodies.
func WithPlainTextMode(mode PlainTextMode) Option {
	return func(c *Converter) {
		switch mode {
		case PlainTextParagraphs, PlainTextMarkdown:
			c.textMode = mode
		}
	}
}

// New builds a Converter.
func New(opts ...Option) *Converter {
	c := &Converter{
		logger:         log.Default(),
		sanitizer:      utils.NewHTMLSanitizer(),
		inlineMaxBytes: DefaultInlineMaxBytes,
		concurrency:    DefaultFetchConcurrency,
		textMode:       PlainTextParagraphs,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Converter) logf(format string, args ...any) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
