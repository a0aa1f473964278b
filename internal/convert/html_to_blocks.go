package convert

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/utils"
)

// HTMLToBlocks converts a mail HTML body into blocks. inline supplies the message's cid:
// parts and may be nil. Quoted history is collapsed into a trailing toggle and the result
// is capped at blocks.MaxBlocks.
func (c *Converter) HTMLToBlocks(ctx context.Context, content string, inline InlineParts) []blocks.Block {
	out := c.convertHTML(ctx, content, inline)
	out = collapseQuotedThread(out)
	return blocks.CapBlocks(out, blocks.MaxBlocks)
}

func (c *Converter) convertHTML(ctx context.Context, content string, inline InlineParts) []blocks.Block {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	clean := c.sanitizer.Sanitize(content)
	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		c.logf("convert: parse html: %v", err)
		return textParagraphs(utils.PlainText(clean))
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		body = doc
	}
	w := &walker{c: c, images: c.resolveImages(ctx, collectImageSources(body), inline)}
	return w.container(body)
}

type walker struct {
	c      *Converter
	images imageSet
}

// container converts the children of n, grouping loose inline content into paragraphs.
func (w *walker) container(n *html.Node) []blocks.Block {
	var (
		out []blocks.Block
		run []*html.Node
	)
	flush := func() {
		if len(run) > 0 {
			out = append(out, w.textBlocks(blocks.Block{Kind: blocks.KindParagraph}, run)...)
			run = nil
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch {
		case isElement(child, atom.Br) && !hasVisibleContent(run):
			run = nil
			out = append(out, blocks.Paragraph(""))
		case isBlockElement(child):
			flush()
			out = append(out, w.safeBlock(child)...)
		case child.Type == html.TextNode, child.Type == html.ElementNode:
			run = append(run, child)
		}
	}
	flush()
	return out
}

// safeBlock converts one block-level node, degrading a failure to a text paragraph.
func (w *walker) safeBlock(n *html.Node) (out []blocks.Block) {
	defer func() {
		if r := recover(); r != nil {
			w.c.logf("convert: <%s> conversion failed: %v", n.Data, r)
			text := strings.TrimSpace(collapseSpace(textContent(n)))
			out = nil
			if text != "" {
				out = []blocks.Block{blocks.Paragraph(blocks.TruncateRunes(text, blocks.MaxSpanRunes))}
			}
		}
	}()
	return w.block(n)
}

func (w *walker) block(n *html.Node) []blocks.Block {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		return w.textBlocks(blocks.Heading(level), childNodes(n))
	case atom.P, atom.Figcaption, atom.Caption:
		return w.textBlocks(blocks.Block{Kind: blocks.KindParagraph}, childNodes(n))
	case atom.Blockquote:
		return w.textBlocks(blocks.Block{Kind: blocks.KindQuote}, childNodes(n))
	case atom.Ul, atom.Ol:
		return w.list(n, listKind(n))
	case atom.Li:
		return w.listItem(n, blocks.KindBulletedItem)
	case atom.Pre:
		return []blocks.Block{w.code(n)}
	case atom.Table:
		return w.table(n)
	case atom.Hr:
		return []blocks.Block{blocks.Divider()}
	case atom.Figure:
		return w.figure(n)
	case atom.Div:
		if hasClass(n, "toggle") {
			return []blocks.Block{w.toggle(n)}
		}
		return w.container(n)
	case atom.Section, atom.Article, atom.Header, atom.Footer, atom.Center, atom.Body, atom.Html,
		atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr:
		return w.container(n)
	default:
		return w.textBlocks(blocks.Block{Kind: blocks.KindParagraph}, childNodes(n))
	}
}

// textBlocks converts inline content into blocks shaped like proto. Images split the
// text into separate blocks.
func (w *walker) textBlocks(proto blocks.Block, nodes []*html.Node) []blocks.Block {
	var out []blocks.Block
	for _, seg := range w.segments(nodes) {
		if seg.block != nil {
			out = append(out, *seg.block)
			continue
		}
		spans := finishSpans(seg.spans)
		if len(spans) == 0 {
			continue
		}
		b := proto
		b.Spans = spans
		out = append(out, b)
	}
	return out
}

func (w *walker) list(n *html.Node, kind blocks.Kind) []blocks.Block {
	var out []blocks.Block
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case isElement(c, atom.Li):
			out = append(out, w.listItem(c, kind)...)
		case isElement(c, atom.Ul), isElement(c, atom.Ol):
			nested := w.list(c, listKind(c))
			if len(out) > 0 {
				out[len(out)-1].Children = append(out[len(out)-1].Children, nested...)
			} else {
				out = append(out, nested...)
			}
		case c.Type == html.ElementNode:
			out = append(out, w.safeBlock(c)...)
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) != "":
			out = append(out, blocks.Block{Kind: kind, Spans: finishSpans([]blocks.Span{blocks.Text(collapseSpace(c.Data))})})
		}
	}
	return out
}

func (w *walker) listItem(li *html.Node, kind blocks.Kind) []blocks.Block {
	item := blocks.Block{Kind: kind}
	var run []*html.Node
	flush := func() {
		for _, seg := range w.segments(run) {
			if seg.block != nil {
				item.Children = append(item.Children, *seg.block)
				continue
			}
			item.Spans = joinLines(item.Spans, seg.spans)
		}
		run = nil
	}
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case isElement(c, atom.Ul), isElement(c, atom.Ol):
			flush()
			item.Children = append(item.Children, w.list(c, listKind(c))...)
		case isBlockElement(c):
			flush()
			if len(item.Spans) == 0 && len(item.Children) == 0 && (isElement(c, atom.P) || isElement(c, atom.Div)) && !hasBlockChild(c) {
				run = childNodes(c)
				flush()
				continue
			}
			item.Children = append(item.Children, w.safeBlock(c)...)
		default:
			run = append(run, c)
		}
	}
	flush()
	item.Spans = finishSpans(item.Spans)
	if item.IsEmpty() {
		return nil
	}
	item.Children = blocks.CapBlocks(item.Children, blocks.MaxChildren)
	return []blocks.Block{item}
}

func (w *walker) code(pre *html.Node) blocks.Block {
	language := blocks.DefaultCodeLanguage
	if code := findElement(pre, atom.Code); code != nil {
		for _, cls := range strings.Fields(attr(code, "class")) {
			if strings.HasPrefix(cls, "language-") {
				language = languageFromClass(strings.TrimPrefix(cls, "language-"))
				break
			}
		}
	}
	text := strings.TrimSuffix(strings.ReplaceAll(textContent(pre), "\r\n", "\n"), "\n")
	return blocks.Block{
		Kind:  blocks.KindCode,
		Spans: chunkText(text, blocks.MaxSpanRunes),
		Code:  &blocks.Code{Language: language},
	}
}

func (w *walker) table(n *html.Node) []blocks.Block {
	var rows [][]*html.Node
	var collect func(*html.Node)
	collect = func(parent *html.Node) {
		for c := parent.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case isElement(c, atom.Thead), isElement(c, atom.Tbody), isElement(c, atom.Tfoot):
				collect(c)
			case isElement(c, atom.Tr):
				var cells []*html.Node
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if isElement(cell, atom.Td) || isElement(cell, atom.Th) {
						cells = append(cells, cell)
					}
				}
				if len(cells) > 0 {
					rows = append(rows, cells)
				}
			}
		}
	}
	collect(n)
	if len(rows) == 0 {
		return w.textBlocks(blocks.Block{Kind: blocks.KindParagraph}, childNodes(n))
	}
	if len(rows) > blocks.MaxChildren {
		rows = rows[:blocks.MaxChildren]
	}

	t := &blocks.Table{}
	for _, row := range rows {
		if len(row) > t.Width {
			t.Width = len(row)
		}
	}
	t.ColumnHeader = allElements(rows[0], atom.Th)
	start := 0
	if t.ColumnHeader {
		start = 1
	}
	if start < len(rows) {
		t.RowHeader = true
		for _, row := range rows[start:] {
			if !isElement(row[0], atom.Th) {
				t.RowHeader = false
				break
			}
		}
	}
	for _, row := range rows {
		cells := make([][]blocks.Span, t.Width)
		for i, cell := range row {
			cells[i] = w.spansOf(cell)
		}
		t.Rows = append(t.Rows, cells)
	}
	return []blocks.Block{{Kind: blocks.KindTable, Table: t}}
}

func (w *walker) figure(n *html.Node) []blocks.Block {
	img := findElement(n, atom.Img)
	if img == nil {
		return w.container(n)
	}
	var caption []blocks.Span
	if fc := findElement(n, atom.Figcaption); fc != nil {
		caption = w.spansOf(fc)
	}
	src := w.images[strings.TrimSpace(attr(img, "src"))]
	alt := strings.TrimSpace(attr(img, "alt"))
	if src == "" {
		if text := blocks.PlainText(caption); text != "" {
			return []blocks.Block{{Kind: blocks.KindParagraph, Spans: caption}}
		}
		if alt != "" {
			return []blocks.Block{blocks.Paragraph(alt)}
		}
		return nil
	}
	return []blocks.Block{blocks.ImageBlock(src, alt, caption...)}
}

func (w *walker) toggle(n *html.Node) blocks.Block {
	var summary, content *html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case summary == nil && hasClass(c, "toggle-summary"):
			summary = c
		case content == nil && hasClass(c, "toggle-content"):
			content = c
		}
	}
	var spans []blocks.Span
	if summary != nil {
		spans = w.spansOf(summary)
	}
	if len(spans) == 0 {
		spans = []blocks.Span{blocks.Text(DefaultToggleSummary)}
	}
	var children []blocks.Block
	if content != nil {
		children = w.container(content)
	} else {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c == summary {
				continue
			}
			if isBlockElement(c) {
				children = append(children, w.safeBlock(c)...)
			} else {
				children = append(children, w.textBlocks(blocks.Block{Kind: blocks.KindParagraph}, []*html.Node{c})...)
			}
		}
	}
	return blocks.Toggle(spans, blocks.CapBlocks(children, blocks.MaxChildren))
}

// spansOf flattens the inline content of n, ignoring images.
func (w *walker) spansOf(n *html.Node) []blocks.Span {
	var spans []blocks.Span
	for _, seg := range w.segments(childNodes(n)) {
		if seg.block == nil {
			spans = append(spans, seg.spans...)
		}
	}
	return finishSpans(spans)
}

func (w *walker) imageBlock(img *html.Node) (blocks.Block, bool) {
	src := w.images[strings.TrimSpace(attr(img, "src"))]
	alt := strings.TrimSpace(attr(img, "alt"))
	if src == "" {
		if alt == "" {
			return blocks.Block{}, false
		}
		return blocks.Paragraph(alt), true
	}
	return blocks.ImageBlock(src, alt), true
}

var whitespaceRun = regexp.MustCompile(`[ \t\r\n\f]+`)

func collapseSpace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

// finishSpans trims, truncates and merges spans for storage.
func finishSpans(spans []blocks.Span) []blocks.Span {
	spans = blocks.TrimSpans(spans)
	for i := range spans {
		spans[i].Text = blocks.TruncateRunes(spans[i].Text, blocks.MaxSpanRunes)
	}
	return blocks.NormalizeSpans(spans)
}

func joinLines(a, b []blocks.Span) []blocks.Span {
	b = blocks.TrimSpans(b)
	if len(b) == 0 {
		return a
	}
	if len(blocks.TrimSpans(a)) > 0 {
		a = append(a, blocks.Text("\n"))
	}
	return append(a, b...)
}

func chunkText(text string, max int) []blocks.Span {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []blocks.Span
	for len(runes) > 0 && len(out) < blocks.MaxSpansPerBlock {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, blocks.Text(string(runes[:n])))
		runes = runes[n:]
	}
	return out
}

func listKind(n *html.Node) blocks.Kind {
	if n.DataAtom == atom.Ol {
		return blocks.KindNumberedItem
	}
	return blocks.KindBulletedItem
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func colorClass(n *html.Node) string {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, "color-") && len(c) > len("color-") {
			return strings.TrimPrefix(c, "color-")
		}
	}
	return ""
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}

func allElements(nodes []*html.Node, a atom.Atom) bool {
	for _, n := range nodes {
		if !isElement(n, a) {
			return false
		}
	}
	return len(nodes) > 0
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Blockquote: true,
	atom.Pre: true, atom.Table: true, atom.Thead: true, atom.Tbody: true, atom.Tfoot: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Hr: true, atom.Figure: true,
	atom.Figcaption: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Center: true, atom.Caption: true, atom.Body: true, atom.Html: true,
}

func isBlockElement(n *html.Node) bool {
	return n.Type == html.ElementNode && blockAtoms[n.DataAtom]
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isBlockElement(c) {
			return true
		}
	}
	return false
}

func hasVisibleContent(nodes []*html.Node) bool {
	for _, n := range nodes {
		if isElement(n, atom.Img) || findElement(n, atom.Img) != nil {
			return true
		}
		if strings.TrimSpace(textContent(n)) != "" {
			return true
		}
	}
	return false
}

func childNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, a) {
			return c
		}
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
