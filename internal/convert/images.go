package convert

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/casesync/internal/storage"
)

// imageSet maps an img src attribute to its resolved URL. A missing or empty entry means
// the image is dropped.
type imageSet map[string]string

func unescapePath(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// collectImageSources lists distinct img src values under n in document order.
func collectImageSources(n *html.Node) []string {
	var (
		out  []string
		seen = map[string]bool{}
		walk func(*html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			if src := strings.TrimSpace(attr(n, "src")); src != "" && !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// resolveImages resolves every source with bounded concurrency. Failures only drop the
// affected image.
func (c *Converter) resolveImages(ctx context.Context, sources []string, inline InlineParts) imageSet {
	resolved := make(imageSet, len(sources))
	if len(sources) == 0 {
		return resolved
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			u := c.resolveImage(gctx, src, inline)
			mu.Lock()
			resolved[src] = u
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return resolved
}

// resolveImage applies the image policy to one source.
//
// cid: parts are uploaded when storage is configured, else embedded as a data URL when
// small enough, else dropped. Remote images keep their URL unless remote mirroring is on.
func (c *Converter) resolveImage(ctx context.Context, src string, inline InlineParts) string {
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "cid:"):
		part, ok := inline.Lookup(src)
		if !ok || len(part.Data) == 0 {
			c.logf("convert: inline image %s not found in message parts", src)
			return ""
		}
		return c.inlineImageURL(ctx, part)
	case strings.HasPrefix(lower, "data:"):
		return src
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if c.mirrorRemote && c.mirror != nil {
			durable, err := c.mirror.Mirror(ctx, src)
			if err == nil {
				return durable
			}
			c.logf("convert: mirror %s failed: %v", src, err)
		}
		return shortenURL(src)
	default:
		return ""
	}
}

func (c *Converter) inlineImageURL(ctx context.Context, part InlinePart) string {
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if c.uploader != nil {
		key := storage.KeyFor("inline", part.Data, part.Filename)
		u, err := c.uploader.Upload(ctx, key, part.Data, contentType)
		if err == nil && u != "" {
			return u
		}
		c.logf("convert: upload of inline image %s failed: %v", part.ContentID, err)
	}
	if len(part.Data) <= c.inlineMaxBytes {
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(part.Data)
	}
	c.logf("convert: skipping inline image %s (%d bytes, no storage)", part.ContentID, len(part.Data))
	return ""
}

// shortenURL drops the query of an over-long URL, returning "" when that is not enough.
func shortenURL(raw string) string {
	if len(raw) <= MaxURLLength {
		return raw
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if len(raw) > MaxURLLength {
		return ""
	}
	return raw
}

// safeLink returns href when it is an acceptable link target.
func safeLink(href string) string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "mailto:") {
		return ""
	}
	if len(href) > MaxURLLength {
		return ""
	}
	return href
}
