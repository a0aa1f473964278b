package outbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/casesync/internal/mailer"
	"github.com/gotrs-io/casesync/internal/workspace"
)

// DefaultDownloadConcurrency bounds parallel attachment downloads.
const DefaultDownloadConcurrency = 5

type downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, string, error)
}

// downloadAttachments fetches the page's files with bounded concurrency. Files sharing a URL
// are fetched once. A failed download is logged and left out; it never fails the reply.
func (p *ReplyProcessor) downloadAttachments(ctx context.Context, files []workspace.File) []mailer.Attachment {
	if p.downloader == nil || len(files) == 0 {
		return nil
	}

	type slot struct {
		url  string
		name string
	}
	var slots []slot
	seen := make(map[string]bool)
	for _, f := range files {
		u := strings.TrimSpace(f.URL)
		if u == "" {
			continue
		}
		h := urlHash(u)
		if seen[h] {
			continue
		}
		seen[h] = true
		slots = append(slots, slot{url: u, name: attachmentName(f, h)})
	}

	results := make([]*mailer.Attachment, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, s := range slots {
		g.Go(func() error {
			data, contentType, err := p.downloader.Download(gctx, s.url)
			if err != nil {
				p.logf("outbound: attachment %s skipped: %v", s.name, err)
				return nil
			}
			results[i] = &mailer.Attachment{Filename: s.name, ContentType: contentType, Data: data}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]mailer.Attachment, 0, len(results))
	for _, a := range results {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func urlHash(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])[:12]
}

// attachmentName prefers the file's own name, then the URL's last path element, then a
// name derived from the URL hash.
func attachmentName(f workspace.File, hash string) string {
	if name := strings.TrimSpace(f.Name); name != "" && name != "attachment" {
		return path.Base(name)
	}
	if parsed, err := url.Parse(f.URL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "/" && base != "." {
			if unescaped, err := url.PathUnescape(base); err == nil {
				return unescaped
			}
			return base
		}
	}
	return "file_" + hash
}
