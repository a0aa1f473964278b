package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLSanitizerDropsStyleAndScript(t *testing.T) {
	s := NewHTMLSanitizer()
	out := s.Sanitize(`<style>p{color:red}</style><script>alert(1)</script><p onclick="x()">Hi</p>`)
	assert.Equal(t, "<p>Hi</p>", out)
}

func TestHTMLSanitizerKeepsConverterMarkup(t *testing.T) {
	s := NewHTMLSanitizer()
	in := `<div class="toggle"><div class="toggle-summary">S</div></div>` +
		`<span class="color-red">r</span><img src="cid:img1@x" alt="logo">` +
		`<pre><code class="language-go">x</code></pre><a href="https://e.com">l</a>`
	out := s.Sanitize(in)
	assert.Contains(t, out, `class="toggle"`)
	assert.Contains(t, out, `class="toggle-summary"`)
	assert.Contains(t, out, `class="color-red"`)
	assert.Contains(t, out, `src="cid:img1@x"`)
	assert.Contains(t, out, `class="language-go"`)
	assert.Contains(t, out, `href="https://e.com"`)
}

func TestHTMLSanitizerDropsUnsafeLinks(t *testing.T) {
	s := NewHTMLSanitizer()
	out := s.Sanitize(`<a href="javascript:alert(1)">x</a>`)
	assert.NotContains(t, out, "javascript")
}

func TestMarkdownToHTML(t *testing.T) {
	out := MarkdownToHTML("# Title\n\n- one\n- two\n\n~~gone~~")
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<li>one</li>")
	assert.Contains(t, out, "<del>gone</del>")

	raw := MarkdownToHTML("<script>x</script>")
	assert.NotContains(t, raw, "<script>")
	assert.NotContains(t, raw, "&lt;script&gt;", "raw HTML is dropped, not escaped")
	assert.Contains(t, raw, "raw HTML omitted")
}

func TestPlainText(t *testing.T) {
	out := PlainText("<p>Hello &amp; welcome</p><p>Line<br />two</p><ul><li>a</li><li>b</li></ul>")
	require.Equal(t, "Hello & welcome\nLine\ntwo\na\nb", out)
	assert.False(t, strings.Contains(PlainText("<p>a</p>\n\n\n\n<p>b</p>"), "\n\n\n"))
}
