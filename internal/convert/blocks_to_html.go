package convert

import (
	"context"
	"html"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/storage"
)

// ImageStyle keeps rendered images inside the mail client's content width.
const ImageStyle = "max-width:100%;height:auto;display:block;"

// BlocksToHTML renders authored blocks as mail HTML. Output stops at the first top-level
// divider and empty blocks at either edge are dropped. Signed image URLs are mirrored to
// durable storage when available; a failed mirror keeps the original URL.
func (c *Converter) BlocksToHTML(ctx context.Context, bs []blocks.Block) string {
	bs = TrimForSend(bs)
	r := &htmlRenderer{urls: c.mirrorSigned(ctx, bs)}
	var b strings.Builder
	r.blocks(&b, bs)
	return b.String()
}

// TrimForSend cuts bs at the first divider and drops empty edge blocks.
func TrimForSend(bs []blocks.Block) []blocks.Block {
	for i, b := range bs {
		if b.Kind == blocks.KindDivider {
			bs = bs[:i]
			break
		}
	}
	start, end := 0, len(bs)
	for start < end && bs[start].IsEmpty() {
		start++
	}
	for end > start && bs[end-1].IsEmpty() {
		end--
	}
	return bs[start:end]
}

func (c *Converter) mirrorSigned(ctx context.Context, bs []blocks.Block) map[string]string {
	urls := map[string]string{}
	if c.mirror == nil {
		return urls
	}
	var sources []string
	seen := map[string]bool{}
	var walk func([]blocks.Block)
	walk = func(list []blocks.Block) {
		for _, b := range list {
			if b.Kind == blocks.KindImage && b.Image != nil && !seen[b.Image.Source] && storage.IsSigned(b.Image.Source) {
				seen[b.Image.Source] = true
				sources = append(sources, b.Image.Source)
			}
			walk(b.Children)
		}
	}
	walk(bs)
	if len(sources) == 0 {
		return urls
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			durable, err := c.mirror.Mirror(gctx, src)
			if err != nil {
				c.logf("convert: mirror of signed image failed, keeping original: %v", err)
				return nil
			}
			mu.Lock()
			urls[src] = durable
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return urls
}

type htmlRenderer struct {
	urls map[string]string
}

func (r *htmlRenderer) blocks(b *strings.Builder, bs []blocks.Block) {
	for i := 0; i < len(bs); {
		kind := bs[i].Kind
		if !kind.IsList() {
			r.block(b, bs[i])
			i++
			continue
		}
		tag := "ul"
		if kind == blocks.KindNumberedItem {
			tag = "ol"
		}
		b.WriteString("<" + tag + ">")
		for ; i < len(bs) && bs[i].Kind == kind; i++ {
			b.WriteString("<li>")
			writeSpans(b, bs[i].Spans)
			r.blocks(b, bs[i].Children)
			b.WriteString("</li>")
		}
		b.WriteString("</" + tag + ">")
	}
}

func (r *htmlRenderer) block(b *strings.Builder, blk blocks.Block) {
	switch blk.Kind {
	case blocks.KindParagraph:
		if blocks.PlainText(blk.Spans) == "" {
			b.WriteString("<br />")
		} else {
			b.WriteString("<p>")
			writeSpans(b, blk.Spans)
			b.WriteString("</p>")
		}
		r.blocks(b, blk.Children)
	case blocks.KindHeading:
		tag := "h" + string(rune('0'+clampLevel(blk.Level)))
		b.WriteString("<" + tag + ">")
		writeSpans(b, blk.Spans)
		b.WriteString("</" + tag + ">")
	case blocks.KindQuote:
		b.WriteString("<blockquote>")
		writeSpans(b, blk.Spans)
		r.blocks(b, blk.Children)
		b.WriteString("</blockquote>")
	case blocks.KindCode:
		lang := blocks.DefaultCodeLanguage
		if blk.Code != nil && blk.Code.Language != "" {
			lang = blk.Code.Language
		}
		b.WriteString(`<pre><code class="` + html.EscapeString(languageClass(lang)) + `">`)
		b.WriteString(html.EscapeString(blocks.PlainText(blk.Spans)))
		b.WriteString("</code></pre>")
	case blocks.KindTable:
		r.table(b, blk.Table)
	case blocks.KindToggle:
		b.WriteString(`<div class="toggle"><div class="toggle-summary">`)
		writeSpans(b, blk.Spans)
		b.WriteString(`</div><div class="toggle-content">`)
		r.blocks(b, blk.Children)
		b.WriteString(`</div></div>`)
	case blocks.KindImage:
		r.image(b, blk.Image)
	case blocks.KindDivider:
		b.WriteString("<hr />")
	default:
		if text := blk.PlainText(); text != "" {
			b.WriteString("<p>")
			writeSpans(b, []blocks.Span{blocks.Text(text)})
			b.WriteString("</p>")
		}
	}
}

func (r *htmlRenderer) table(b *strings.Builder, t *blocks.Table) {
	if t == nil || len(t.Rows) == 0 {
		return
	}
	width := t.Width
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	writeRow := func(row [][]blocks.Span, header bool) {
		b.WriteString("<tr>")
		for i := 0; i < width; i++ {
			var cell []blocks.Span
			if i < len(row) {
				cell = row[i]
			}
			tag := "td"
			if header || (i == 0 && t.RowHeader) {
				tag = "th"
			}
			b.WriteString("<" + tag + ">")
			writeSpans(b, cell)
			b.WriteString("</" + tag + ">")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("<table>")
	rows := t.Rows
	if t.ColumnHeader {
		b.WriteString("<thead>")
		writeRow(rows[0], true)
		b.WriteString("</thead>")
		rows = rows[1:]
	}
	b.WriteString("<tbody>")
	for _, row := range rows {
		writeRow(row, false)
	}
	b.WriteString("</tbody></table>")
}

func (r *htmlRenderer) image(b *strings.Builder, img *blocks.Image) {
	if img == nil || img.Source == "" {
		return
	}
	src := img.Source
	if durable, ok := r.urls[src]; ok {
		src = durable
	}
	tag := `<img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(img.Alt) + `" style="` + ImageStyle + `" />`
	if len(img.Caption) == 0 {
		b.WriteString(tag)
		return
	}
	b.WriteString("<figure>" + tag + "<figcaption>")
	writeSpans(b, img.Caption)
	b.WriteString("</figcaption></figure>")
}

func writeSpans(b *strings.Builder, spans []blocks.Span) {
	for _, s := range spans {
		b.WriteString(spanHTML(s))
	}
}

// spanHTML wraps text innermost to outermost: code, strong, em, u, del, color, link.
func spanHTML(s blocks.Span) string {
	out := strings.ReplaceAll(html.EscapeString(s.Text), "\n", "<br />")
	if s.Code {
		out = "<code>" + out + "</code>"
	}
	if s.Bold {
		out = "<strong>" + out + "</strong>"
	}
	if s.Italic {
		out = "<em>" + out + "</em>"
	}
	if s.Underline {
		out = "<u>" + out + "</u>"
	}
	if s.Strikethrough {
		out = "<del>" + out + "</del>"
	}
	if s.Color != "" && s.Color != "default" {
		out = `<span class="color-` + html.EscapeString(s.Color) + `">` + out + "</span>"
	}
	if s.Link != "" {
		out = `<a href="` + html.EscapeString(s.Link) + `" target="_blank" rel="noopener noreferrer">` + out + "</a>"
	}
	return out
}

func clampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 3:
		return 3
	}
	return level
}
