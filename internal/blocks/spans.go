package blocks

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var spaceRun = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)

func sameStyle(a, b Span) bool {
	return a.Link == b.Link && a.Annotations == b.Annotations
}

// NormalizeSpans merges adjacent spans that share a style, drops empty spans and caps the
// span count. Merges never produce a span longer than MaxSpanRunes.
func NormalizeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		if n := len(out); n > 0 && sameStyle(out[n-1], s) &&
			utf8.RuneCountInString(out[n-1].Text)+utf8.RuneCountInString(s.Text) <= MaxSpanRunes {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	if len(out) > MaxSpansPerBlock {
		out = out[:MaxSpansPerBlock]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SplitSpans cuts spans at a rune offset into the concatenated text.
func SplitSpans(spans []Span, offset int) (before, after []Span) {
	if offset <= 0 {
		return nil, append([]Span(nil), spans...)
	}
	pos := 0
	for i, s := range spans {
		n := utf8.RuneCountInString(s.Text)
		if pos+n <= offset {
			before = append(before, s)
			pos += n
			continue
		}
		cut := offset - pos
		runes := []rune(s.Text)
		head, tail := s, s
		head.Text = string(runes[:cut])
		tail.Text = string(runes[cut:])
		if head.Text != "" {
			before = append(before, head)
		}
		after = append(after, tail)
		after = append(after, spans[i+1:]...)
		return before, after
	}
	return before, nil
}

// TrimSpans removes leading and trailing whitespace across the span sequence.
func TrimSpans(spans []Span) []Span {
	out := append([]Span(nil), spans...)
	for len(out) > 0 {
		out[0].Text = strings.TrimLeft(out[0].Text, " \t\r\n")
		if out[0].Text != "" {
			break
		}
		out = out[1:]
	}
	for len(out) > 0 {
		last := len(out) - 1
		out[last].Text = strings.TrimRight(out[last].Text, " \t\r\n")
		if out[last].Text != "" {
			break
		}
		out = out[:last]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Canonical returns a comparison form of a block sequence: whitespace runs collapsed,
// edges trimmed, spans merged. Two sequences that render identically share a canonical form.
func Canonical(bs []Block) []Block {
	if len(bs) == 0 {
		return nil
	}
	out := make([]Block, 0, len(bs))
	for _, b := range bs {
		out = append(out, canonicalBlock(b))
	}
	return out
}

func canonicalBlock(b Block) Block {
	c := b
	if b.Kind == KindCode {
		c.Spans = NormalizeSpans(b.Spans)
	} else {
		c.Spans = canonicalSpans(b.Spans)
	}
	c.Children = Canonical(b.Children)
	if b.Image != nil {
		img := *b.Image
		img.Caption = canonicalSpans(img.Caption)
		c.Image = &img
	}
	if b.Table != nil {
		t := *b.Table
		t.Rows = make([][][]Span, len(b.Table.Rows))
		for i, row := range b.Table.Rows {
			t.Rows[i] = make([][]Span, len(row))
			for j, cell := range row {
				t.Rows[i][j] = canonicalSpans(cell)
			}
		}
		c.Table = &t
	}
	if b.Code != nil {
		code := *b.Code
		c.Code = &code
	}
	return c
}

func canonicalSpans(spans []Span) []Span {
	cp := NormalizeSpans(spans)
	for i := range cp {
		cp[i].Text = spaceRun.ReplaceAllString(cp[i].Text, " ")
	}
	for i := 1; i < len(cp); i++ {
		if strings.HasSuffix(cp[i-1].Text, " ") || strings.HasSuffix(cp[i-1].Text, "\n") {
			cp[i].Text = strings.TrimLeft(cp[i].Text, " ")
		}
	}
	return NormalizeSpans(TrimSpans(cp))
}

// CapBlocks truncates a sequence to max blocks, recursively capping children.
func CapBlocks(bs []Block, max int) []Block {
	if max > 0 && len(bs) > max {
		bs = bs[:max]
	}
	for i := range bs {
		if len(bs[i].Children) > 0 {
			bs[i].Children = CapBlocks(bs[i].Children, MaxChildren)
		}
	}
	return bs
}
