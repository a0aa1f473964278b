package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gotrs-io/casesync/internal/blocks"
)

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "https://files.example.com/" + key, nil
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeMirror) Mirror(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "https://durable.example.com/copy.png", nil
}

func quietConverter(opts ...Option) *Converter {
	return New(append([]Option{WithLogger(nil)}, opts...)...)
}

func kinds(bs []blocks.Block) []blocks.Kind {
	out := make([]blocks.Kind, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Kind)
	}
	return out
}

func TestHTMLToBlocksStructure(t *testing.T) {
	c := quietConverter()
	in := `<h1>Title</h1><p>Hello <strong>bold</strong> <a href="https://e.com">link</a></p>` +
		`<ul><li>one</li><li>two<ul><li>nested</li></ul></li></ul><ol><li>first</li></ol>` +
		`<blockquote><p>q1</p><p>q2</p></blockquote><pre><code class="language-go">fmt.Println()</code></pre><h5>Deep</h5><hr>`

	bs := c.HTMLToBlocks(context.Background(), in, nil)
	require.Equal(t, []blocks.Kind{
		blocks.KindHeading, blocks.KindParagraph, blocks.KindBulletedItem, blocks.KindBulletedItem,
		blocks.KindNumberedItem, blocks.KindQuote, blocks.KindCode, blocks.KindHeading, blocks.KindDivider,
	}, kinds(bs))

	assert.Equal(t, 1, bs[0].Level)
	assert.Equal(t, []blocks.Span{
		{Text: "Hello "},
		{Text: "bold", Annotations: blocks.Annotations{Bold: true}},
		{Text: " "},
		{Text: "link", Link: "https://e.com"},
	}, bs[1].Spans)
	require.Len(t, bs[3].Children, 1)
	assert.Equal(t, "nested", bs[3].Children[0].PlainText())
	assert.Equal(t, "q1\nq2", bs[5].PlainText())
	assert.Equal(t, "go", bs[6].Code.Language)
	assert.Equal(t, "fmt.Println()", bs[6].PlainText())
	assert.Equal(t, 3, bs[7].Level)
}

func TestHTMLToBlocksDropsStyleAndScript(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(),
		`<html><head><style>.x{color:red}</style></head><body><script>alert(1)</script><p>a</p></body></html>`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, "a", bs[0].PlainText())
}

func TestHTMLToBlocksUnknownElementsDegrade(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(), `<custom-widget>hello <b>there</b></custom-widget>`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, blocks.KindParagraph, bs[0].Kind)
	assert.Equal(t, "hello there", bs[0].PlainText())
}

func TestHTMLToBlocksMalformedInput(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(), `<p>unclosed <b>bold <div>text</p></span><li>stray`, nil)
	require.NotEmpty(t, bs)
	var text []string
	for _, b := range bs {
		text = append(text, b.PlainText())
	}
	joined := strings.Join(text, " ")
	assert.Contains(t, joined, "unclosed")
	assert.Contains(t, joined, "stray")
}

func TestHTMLToBlocksStandaloneBreak(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(), `<p>a</p><br><p>b</p>`, nil)
	require.Equal(t, []blocks.Kind{blocks.KindParagraph, blocks.KindParagraph, blocks.KindParagraph}, kinds(bs))
	assert.True(t, bs[1].IsEmpty())
}

func TestHTMLToBlocksInlineBreaksAndColor(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(), `<p>Line one<br>line <span class="color-red">two</span></p>`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, "Line one\nline two", bs[0].PlainText())
	last := bs[0].Spans[len(bs[0].Spans)-1]
	assert.Equal(t, "red", last.Color)
}

func TestHTMLToBlocksTableHeaders(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(),
		`<table><tr><th>k</th><td>v</td></tr><tr><th>k2</th><td>v2</td><td>extra</td></tr></table>`, nil)
	require.Len(t, bs, 1)
	tbl := bs[0].Table
	require.NotNil(t, tbl)
	assert.False(t, tbl.ColumnHeader)
	assert.True(t, tbl.RowHeader)
	assert.Equal(t, 3, tbl.Width)
	require.Len(t, tbl.Rows[0], 3)
	assert.Nil(t, tbl.Rows[0][2])
}

func TestHTMLToBlocksToggle(t *testing.T) {
	in := `<p>Intro</p><div class="toggle"><div class="toggle-summary">More <b>info</b></div>` +
		`<div class="toggle-content"><p>Hidden A</p><p>Hidden B</p></div></div>`
	bs := quietConverter().HTMLToBlocks(context.Background(), in, nil)
	require.Len(t, bs, 2)
	toggle := bs[1]
	assert.Equal(t, blocks.KindToggle, toggle.Kind)
	assert.Equal(t, "More info", toggle.PlainText())
	assert.True(t, toggle.Spans[len(toggle.Spans)-1].Bold)
	require.Len(t, toggle.Children, 2)
	assert.Equal(t, "Hidden B", toggle.Children[1].PlainText())
}

func TestHTMLToBlocksToggleDefaultsSummary(t *testing.T) {
	bs := quietConverter().HTMLToBlocks(context.Background(), `<div class="toggle"><div class="toggle-content"><p>x</p></div></div>`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, DefaultToggleSummary, bs[0].PlainText())
}

func TestHTMLToBlocksCollapsesQuotedThread(t *testing.T) {
	in := `<div>New reply content</div><div>On Tue, Oct 15 John Doe wrote:</div>` +
		`<div>Older content line 1</div><div>Older content line 2</div>`
	bs := quietConverter().HTMLToBlocks(context.Background(), in, nil)
	require.Len(t, bs, 2)
	assert.Equal(t, "New reply content", bs[0].PlainText())

	toggle := bs[1]
	require.Equal(t, blocks.KindToggle, toggle.Kind)
	assert.Equal(t, PreviousThreadTitle, toggle.PlainText())
	require.Len(t, toggle.Children, 3)
	assert.Equal(t, "Older content line 1", toggle.Children[1].PlainText())
}

func TestHTMLToBlocksSplitsBlockAtQuoteMarker(t *testing.T) {
	in := `<p>Thanks!<br>On Mon, Jan 1, 2024 at 9:00 AM, X &lt;x@example.com&gt; wrote:<br>&gt; old line</p>`
	bs := quietConverter().HTMLToBlocks(context.Background(), in, nil)
	require.Len(t, bs, 2)
	assert.Equal(t, "Thanks!", bs[0].PlainText())
	require.Equal(t, blocks.KindToggle, bs[1].Kind)
	require.Len(t, bs[1].Children, 1)
	child := bs[1].Children[0].PlainText()
	assert.True(t, strings.HasPrefix(child, "On Mon, Jan 1, 2024"))
	assert.Contains(t, child, "> old line")
	assert.NotContains(t, bs[0].PlainText(), "old line")
}

func TestCollapseQuotedThreadDropsBlankLinesBeforeToggle(t *testing.T) {
	bs := collapseQuotedThread([]blocks.Block{
		blocks.Paragraph("Thanks, fixed."),
		blocks.Paragraph(""),
		blocks.Paragraph(" "),
		blocks.Paragraph("On Tue, Oct 15, 2024 at 9:00 AM Jane wrote:"),
		blocks.Paragraph("> old"),
	})
	require.Len(t, bs, 2)
	assert.Equal(t, "Thanks, fixed.", bs[0].PlainText())
	assert.Equal(t, blocks.KindToggle, bs[1].Kind)
	assert.Len(t, bs[1].Children, 2)
}

func TestHTMLToBlocksGmailReplyHasNoBlankBeforeToggle(t *testing.T) {
	in := `<div dir="ltr">Thanks, fixed.</div><br>` +
		`<div class="gmail_quote"><div dir="ltr" class="gmail_attr">On Tue, Oct 15, 2024 at 9:00 AM Jane &lt;jane@customer.com&gt; wrote:<br></div>` +
		`<blockquote class="gmail_quote"><div>The printer is jammed.</div></blockquote></div>`
	bs := quietConverter().HTMLToBlocks(context.Background(), in, nil)
	require.NotEmpty(t, bs)
	assert.Equal(t, "Thanks, fixed.", bs[0].PlainText())
	last := bs[len(bs)-1]
	require.Equal(t, blocks.KindToggle, last.Kind)
	for _, b := range bs[:len(bs)-1] {
		assert.False(t, b.IsEmpty(), "blank %s block before the toggle", b.Kind)
	}
}

func TestHTMLToBlocksSizeGovernance(t *testing.T) {
	long := strings.Repeat("x", 2500)
	bs := quietConverter().HTMLToBlocks(context.Background(), "<p>"+long+"</p>", nil)
	require.Len(t, bs, 1)
	assert.Equal(t, blocks.MaxSpanRunes, len(bs[0].PlainText()))

	var many strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&many, "<p>p%d</p>", i)
	}
	bs = quietConverter().HTMLToBlocks(context.Background(), many.String(), nil)
	assert.Len(t, bs, blocks.MaxBlocks)
	assert.Equal(t, "p99", bs[len(bs)-1].PlainText())
}

func TestInlineImageSmallEmbedsDataURL(t *testing.T) {
	parts := InlineParts{}
	parts.Add(InlinePart{ContentID: "<Logo@X>", ContentType: "image/png", Filename: "logo.png", Data: bytes.Repeat([]byte{1}, 1024)})

	bs := quietConverter().HTMLToBlocks(context.Background(), `<p>Hi</p><img src="cid:logo@x" alt="logo">`, parts)
	require.Len(t, bs, 2)
	require.Equal(t, blocks.KindImage, bs[1].Kind)
	assert.True(t, strings.HasPrefix(bs[1].Image.Source, "data:image/png;base64,"))
	assert.Equal(t, "logo", bs[1].Image.Alt)
}

func TestInlineImageLargeWithoutStorageIsSkipped(t *testing.T) {
	parts := InlineParts{}
	parts.Add(InlinePart{ContentID: "big@x", ContentType: "image/png", Data: make([]byte, 50*1024)})

	bs := quietConverter().HTMLToBlocks(context.Background(), `<p>Hi</p><img src="cid:big@x">`, parts)
	require.Len(t, bs, 1)
	assert.Equal(t, blocks.KindParagraph, bs[0].Kind)

	bs = quietConverter().HTMLToBlocks(context.Background(), `<p>Hi</p><img src="cid:big@x" alt="diagram">`, parts)
	require.Len(t, bs, 2)
	assert.Equal(t, blocks.KindParagraph, bs[1].Kind)
	assert.Equal(t, "diagram", bs[1].PlainText())
	assert.Nil(t, bs[1].Image)
}

func TestInlineImageUploadedWhenStorageConfigured(t *testing.T) {
	up := &fakeUploader{}
	parts := InlineParts{}
	parts.Add(InlinePart{ContentID: "big@x", ContentType: "image/png", Filename: "shot.png", Data: make([]byte, 50*1024)})

	bs := quietConverter(WithUploader(up)).HTMLToBlocks(context.Background(), `<img src="cid:big@x">`, parts)
	require.Len(t, bs, 1)
	require.Equal(t, blocks.KindImage, bs[0].Kind)
	assert.True(t, strings.HasPrefix(bs[0].Image.Source, "https://files.example.com/inline/"))
	require.Len(t, up.keys, 1)
	assert.True(t, strings.HasSuffix(up.keys[0], "/shot.png"))
}

func TestInlineImageUploadFailureFallsBack(t *testing.T) {
	up := &fakeUploader{err: errors.New("bucket gone")}
	parts := InlineParts{}
	parts.Add(InlinePart{ContentID: "s@x", ContentType: "image/gif", Data: []byte("GIF89a")})

	bs := quietConverter(WithUploader(up)).HTMLToBlocks(context.Background(), `<img src="cid:s@x">`, parts)
	require.Len(t, bs, 1)
	assert.True(t, strings.HasPrefix(bs[0].Image.Source, "data:image/gif;base64,"))
}

func TestRemoteImagePolicy(t *testing.T) {
	longURL := "https://cdn.example.com/a.png?" + strings.Repeat("q", MaxURLLength)
	bs := quietConverter().HTMLToBlocks(context.Background(), `<img src="`+longURL+`">`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, "https://cdn.example.com/a.png", bs[0].Image.Source)
	assert.Empty(t, quietConverter().resolveImage(context.Background(), "ftp://x/y.png", nil))

	m := &fakeMirror{}
	bs = quietConverter(WithMirror(m, true)).HTMLToBlocks(context.Background(), `<img src="https://cdn.example.com/b.png">`, nil)
	require.Len(t, bs, 1)
	assert.Equal(t, "https://durable.example.com/copy.png", bs[0].Image.Source)
}

func TestTextToBlocks(t *testing.T) {
	body := "Hello\r\n\r\nSecond para\nline2\n\nOn Mon, Jan 1, 2024 at 9:00 AM, X wrote:\n> quoted"
	bs := quietConverter().TextToBlocks(context.Background(), body)
	require.Equal(t, []blocks.Kind{blocks.KindParagraph, blocks.KindParagraph, blocks.KindToggle}, kinds(bs))
	assert.Equal(t, "Second para\nline2", bs[1].PlainText())
	require.Len(t, bs[2].Children, 1)
	assert.Contains(t, bs[2].Children[0].PlainText(), "> quoted")

	long := quietConverter().TextToBlocks(context.Background(), strings.Repeat("a", 4000))
	require.Len(t, long, 3)
	assert.Len(t, long[2].PlainText(), 400)

	assert.Nil(t, quietConverter().TextToBlocks(context.Background(), " \n\t"))
}

func TestTextToBlocksMarkdownMode(t *testing.T) {
	bs := quietConverter(WithPlainTextMode(PlainTextMarkdown)).TextToBlocks(context.Background(), "# Title\n\n- a\n- **b**")
	require.Equal(t, []blocks.Kind{blocks.KindHeading, blocks.KindBulletedItem, blocks.KindBulletedItem}, kinds(bs))
	assert.True(t, bs[2].Spans[0].Bold)
}

func TestBlocksToHTMLStopsAtDividerAndTrimsEdges(t *testing.T) {
	c := quietConverter()
	out := c.BlocksToHTML(context.Background(), []blocks.Block{
		blocks.Paragraph(""),
		blocks.Paragraph("keep"),
		blocks.Paragraph(""),
		blocks.Divider(),
		blocks.Paragraph("drop"),
	})
	assert.Equal(t, "<p>keep</p>", out)
}

func TestBlocksToHTMLMarkup(t *testing.T) {
	c := quietConverter()
	out := c.BlocksToHTML(context.Background(), []blocks.Block{
		blocks.Toggle([]blocks.Span{blocks.Text("More info")}, []blocks.Block{blocks.Paragraph("Hidden A")}),
		{Kind: blocks.KindParagraph, Spans: []blocks.Span{{
			Text: "x", Link: "https://e.com", Annotations: blocks.Annotations{Bold: true, Code: true, Color: "red"},
		}}},
		blocks.ImageBlock("https://cdn.example.com/a.png", "A"),
		blocks.CodeBlock("", "if a < b {}"),
		{Kind: blocks.KindNumberedItem, Spans: []blocks.Span{blocks.Text("one")}},
		{Kind: blocks.KindNumberedItem, Spans: []blocks.Span{blocks.Text("two")}},
	})
	assert.Contains(t, out, `<div class="toggle"><div class="toggle-summary">More info</div><div class="toggle-content"><p>Hidden A</p></div></div>`)
	assert.Contains(t, out, `<a href="https://e.com" target="_blank" rel="noopener noreferrer"><span class="color-red"><strong><code>x</code></strong></span></a>`)
	assert.Contains(t, out, `style="max-width:100%;height:auto;display:block;"`)
	assert.Contains(t, out, `<pre><code class="language-plain-text">if a &lt; b {}</code></pre>`)
	assert.Contains(t, out, `<ol><li>one</li><li>two</li></ol>`)
}

func TestBlocksToHTMLTableHeaders(t *testing.T) {
	out := quietConverter().BlocksToHTML(context.Background(), []blocks.Block{{
		Kind: blocks.KindTable,
		Table: &blocks.Table{Width: 2, ColumnHeader: true, Rows: [][][]blocks.Span{
			{{blocks.Text("Col1")}, {blocks.Text("Col2")}},
			{{blocks.Text("A")}, {blocks.Text("B")}},
		}},
	}})
	assert.Contains(t, out, "<thead><tr><th>Col1</th><th>Col2</th></tr></thead>")
	assert.Contains(t, out, "<tbody><tr><td>A</td><td>B</td></tr></tbody>")
}

func TestBlocksToHTMLMirrorsSignedImages(t *testing.T) {
	signed := "https://bucket.s3.amazonaws.com/a.png?X-Amz-Signature=abc&X-Amz-Expires=3600"
	plain := "https://cdn.example.com/b.png"
	bs := []blocks.Block{blocks.ImageBlock(signed, ""), blocks.ImageBlock(plain, "")}

	m := &fakeMirror{}
	out := quietConverter(WithMirror(m, false)).BlocksToHTML(context.Background(), bs)
	assert.Contains(t, out, "https://durable.example.com/copy.png")
	assert.Contains(t, out, plain)
	assert.Equal(t, []string{signed}, m.calls)

	failing := &fakeMirror{err: errors.New("timeout")}
	out = quietConverter(WithMirror(failing, false)).BlocksToHTML(context.Background(), bs)
	assert.Contains(t, out, html.EscapeString(signed))
}

func TestRoundTrip(t *testing.T) {
	in := []blocks.Block{
		{Kind: blocks.KindParagraph, Spans: []blocks.Span{
			blocks.Text("Plain "),
			{Text: "bold", Annotations: blocks.Annotations{Bold: true}},
			{Text: " iu", Annotations: blocks.Annotations{Italic: true, Underline: true}},
			{Text: " red", Annotations: blocks.Annotations{Color: "red"}},
			{Text: " struck", Annotations: blocks.Annotations{Strikethrough: true}},
			{Text: " link", Link: "https://example.com/x"},
			{Text: " code()", Annotations: blocks.Annotations{Code: true}},
		}},
		blocks.Heading(2, blocks.Text("Section")),
		{Kind: blocks.KindBulletedItem, Spans: []blocks.Span{blocks.Text("one")}},
		{Kind: blocks.KindBulletedItem, Spans: []blocks.Span{blocks.Text("two")}, Children: []blocks.Block{
			{Kind: blocks.KindNumberedItem, Spans: []blocks.Span{blocks.Text("child")}},
		}},
		blocks.Paragraph(""),
		{Kind: blocks.KindQuote, Spans: []blocks.Span{blocks.Text("a\nb")}},
		blocks.CodeBlock("python", "print('hi')\nx = 1"),
		{Kind: blocks.KindTable, Table: &blocks.Table{Width: 2, ColumnHeader: true, Rows: [][][]blocks.Span{
			{{blocks.Text("H1")}, {blocks.Text("H2")}},
			{{blocks.Text("a")}, {blocks.Text("b")}},
		}}},
		blocks.Toggle([]blocks.Span{blocks.Text("More")}, []blocks.Block{blocks.Paragraph("Hidden")}),
		blocks.ImageBlock("https://cdn.example.com/a.png", "A", blocks.Text("Cap")),
		blocks.Paragraph("after"),
	}
	c := quietConverter()
	rendered := c.BlocksToHTML(context.Background(), in)
	back := c.HTMLToBlocks(context.Background(), rendered, nil)
	require.Equal(t, blocks.Canonical(in), blocks.Canonical(back), rendered)

	withDivider := append(append([]blocks.Block{}, in...), blocks.Divider(), blocks.Paragraph("never sent"))
	back = c.HTMLToBlocks(context.Background(), c.BlocksToHTML(context.Background(), withDivider), nil)
	require.Equal(t, blocks.Canonical(in), blocks.Canonical(back))
}

func TestSafeBlockRecoversFromPanics(t *testing.T) {
	bad := &html.Node{Type: html.ElementNode, DataAtom: atom.H1, Data: "h"}
	bad.AppendChild(&html.Node{Type: html.TextNode, Data: "  still here  "})
	w := &walker{c: quietConverter(), images: imageSet{}}

	out := w.safeBlock(bad)
	require.Len(t, out, 1)
	assert.Equal(t, blocks.KindParagraph, out[0].Kind)
	assert.Equal(t, "still here", out[0].PlainText())
}

func TestNormalizeContentID(t *testing.T) {
	assert.Equal(t, "abc@x", NormalizeContentID("<ABC@x>"))
	assert.Equal(t, "abc@x", NormalizeContentID("cid:abc%40x"))
	assert.Equal(t, "", NormalizeContentID("  "))
}

func TestLanguageFromClass(t *testing.T) {
	assert.Equal(t, "plain text", languageFromClass("plain-text"))
	assert.Equal(t, "objective-c", languageFromClass("objective-c"))
	assert.Equal(t, "javascript", languageFromClass("js"))
	assert.Equal(t, "plain text", languageFromClass("klingon"))
}
