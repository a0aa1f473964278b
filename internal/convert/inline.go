package convert

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gotrs-io/casesync/internal/blocks"
)

// segment is a run of inline spans or a block (an image) that interrupted the run.
type segment struct {
	spans []blocks.Span
	block *blocks.Block
}

type inlineCollector struct {
	w    *walker
	cur  []blocks.Span
	segs []segment
}

// segments walks inline content. Nested block elements become line breaks and images
// split the run.
func (w *walker) segments(nodes []*html.Node) []segment {
	ic := &inlineCollector{w: w}
	for _, n := range nodes {
		ic.walk(n, blocks.Span{})
	}
	ic.cut()
	return ic.segs
}

func (ic *inlineCollector) walk(n *html.Node, style blocks.Span) {
	switch n.Type {
	case html.TextNode:
		ic.text(collapseSpace(n.Data), style)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.Br:
		ic.newline(style)
		return
	case atom.Img:
		if b, ok := ic.w.imageBlock(n); ok {
			ic.cut()
			ic.segs = append(ic.segs, segment{block: &b})
		}
		return
	case atom.B, atom.Strong:
		style.Bold = true
	case atom.I, atom.Em:
		style.Italic = true
	case atom.U:
		style.Underline = true
	case atom.S, atom.Del, atom.Strike:
		style.Strikethrough = true
	case atom.Code:
		style.Code = true
	case atom.A:
		if link := safeLink(attr(n, "href")); link != "" {
			style.Link = link
		}
	case atom.Span:
		if color := colorClass(n); color != "" {
			style.Color = color
		}
	default:
		if isBlockElement(n) {
			ic.boundary()
			defer ic.boundary()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ic.walk(c, style)
	}
}

func (ic *inlineCollector) text(s string, style blocks.Span) {
	if s == "" {
		return
	}
	if ic.atLineStart() {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return
		}
	}
	style.Text = s
	ic.cur = append(ic.cur, style)
}

func (ic *inlineCollector) newline(style blocks.Span) {
	ic.trimTrailingSpace()
	style.Text = "\n"
	ic.cur = append(ic.cur, style)
}

// boundary separates block content with a single line break.
func (ic *inlineCollector) boundary() {
	if len(ic.cur) == 0 || strings.TrimSpace(blocks.PlainText(ic.cur)) == "" {
		return
	}
	if strings.HasSuffix(ic.cur[len(ic.cur)-1].Text, "\n") {
		return
	}
	ic.trimTrailingSpace()
	ic.cur = append(ic.cur, blocks.Text("\n"))
}

func (ic *inlineCollector) atLineStart() bool {
	for i := len(ic.cur) - 1; i >= 0; i-- {
		t := ic.cur[i].Text
		if t == "" {
			continue
		}
		return strings.HasSuffix(t, " ") || strings.HasSuffix(t, "\n")
	}
	return true
}

func (ic *inlineCollector) trimTrailingSpace() {
	for i := len(ic.cur) - 1; i >= 0; i-- {
		ic.cur[i].Text = strings.TrimRight(ic.cur[i].Text, " ")
		if ic.cur[i].Text != "" {
			return
		}
	}
}

func (ic *inlineCollector) cut() {
	if len(ic.cur) > 0 {
		ic.segs = append(ic.segs, segment{spans: ic.cur})
		ic.cur = nil
	}
}
