package utils

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// HTMLSanitizer reduces inbound mail HTML to the markup the block converter understands.
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

var (
	cssClassPattern = regexp.MustCompile(`^[A-Za-z0-9_ -]+$`)
	languagePattern = regexp.MustCompile(`^language-[A-Za-z0-9#+._-]+$`)
)

// NewHTMLSanitizer creates a sanitizer with the mail ingestion policy.
// Style and script bodies are removed entirely, not kept as text.
func NewHTMLSanitizer() *HTMLSanitizer {
	p := bluemonday.NewPolicy()

	// Inline formatting
	p.AllowElements("b", "strong", "i", "em", "u", "s", "strike", "del", "code", "span", "br")

	// Block structure
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "hr", "blockquote", "pre",
		"ul", "ol", "li", "figure", "figcaption", "section", "article", "header", "footer", "center")

	// Tables
	p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption")

	// Images: cid references are resolved later, data URLs pass through.
	p.AllowElements("img")
	p.AllowAttrs("src", "alt").OnElements("img")

	// Links
	p.AllowElements("a")
	p.AllowAttrs("href").OnElements("a")

	p.AllowURLSchemes("http", "https", "mailto", "cid", "data")
	p.AllowDataURIImages()
	p.RequireParseableURLs(true)

	p.AllowAttrs("class").Matching(cssClassPattern).OnElements("div", "span", "pre")
	p.AllowAttrs("class").Matching(languagePattern).OnElements("code")

	return &HTMLSanitizer{policy: p}
}

// Sanitize cleans HTML content.
func (s *HTMLSanitizer) Sanitize(content string) string {
	return s.policy.Sanitize(content)
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// MarkdownToHTML converts markdown content to HTML. Raw HTML in the source is dropped.
func MarkdownToHTML(source string) string {
	var buf strings.Builder
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "<p>" + html.EscapeString(source) + "</p>"
	}
	return buf.String()
}

var (
	blockBreakPattern = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/li|/h[1-6]|/tr|/blockquote|/pre|/table)\s*>`)
	blankRunPattern   = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// StripHTML removes all HTML tags and returns plain text
func StripHTML(content string) string {
	p := bluemonday.StrictPolicy()
	return p.Sanitize(content)
}

// PlainText renders HTML as readable plain text for a text/plain alternative.
// Block boundaries become line breaks and entities are decoded.
func PlainText(content string) string {
	withBreaks := blockBreakPattern.ReplaceAllStringFunc(content, func(tag string) string {
		return tag + "\n"
	})
	text := html.UnescapeString(StripHTML(withBreaks))
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\u00a0")
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
