// Package blocks defines the structured rich-content model exchanged between the
// workspace and the mail converters.
package blocks

import (
	"strings"
	"unicode/utf8"
)

// Kind tags a Block variant.
type Kind string

const (
	KindParagraph    Kind = "paragraph"
	KindHeading      Kind = "heading"
	KindBulletedItem Kind = "bulleted_list_item"
	KindNumberedItem Kind = "numbered_list_item"
	KindQuote        Kind = "quote"
	KindImage        Kind = "image"
	KindCode         Kind = "code"
	KindTable        Kind = "table"
	KindToggle       Kind = "toggle"
	KindDivider      Kind = "divider"
)

// Size limits enforced by the converters.
const (
	MaxSpanRunes     = 2000
	MaxSpansPerBlock = 100
	MaxChildren      = 100
	MaxBlocks        = 100
)

// DefaultCodeLanguage is used when a code block carries no recognised language.
const DefaultCodeLanguage = "plain text"

// Annotations carry inline styling for a span. Color is a named color, empty for default.
type Annotations struct {
	Bold          bool   `json:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Underline     bool   `json:"underline,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Code          bool   `json:"code,omitempty"`
	Color         string `json:"color,omitempty"`
}

// Span is a run of text sharing one style and optional link.
type Span struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
	Annotations
}

// Image is the payload of an image block.
type Image struct {
	Source  string `json:"source"`
	Alt     string `json:"alt,omitempty"`
	Caption []Span `json:"caption,omitempty"`
}

// Code is the payload of a code block; the code text itself lives in Block.Spans.
type Code struct {
	Language string `json:"language"`
}

// Table is the payload of a table block. Every row has Width cells.
type Table struct {
	Width        int        `json:"width"`
	ColumnHeader bool       `json:"column_header,omitempty"`
	RowHeader    bool       `json:"row_header,omitempty"`
	Rows         [][][]Span `json:"rows"`
}

// Block is one structural unit of rich content.
type Block struct {
	Kind     Kind    `json:"kind"`
	Level    int     `json:"level,omitempty"`
	Spans    []Span  `json:"spans,omitempty"`
	Children []Block `json:"children,omitempty"`
	Image    *Image  `json:"image,omitempty"`
	Code     *Code   `json:"code,omitempty"`
	Table    *Table  `json:"table,omitempty"`
}

// Text returns a plain span.
func Text(s string) Span {
	return Span{Text: s}
}

// Paragraph builds a paragraph from plain text.
func Paragraph(text string) Block {
	if text == "" {
		return Block{Kind: KindParagraph}
	}
	return Block{Kind: KindParagraph, Spans: []Span{Text(text)}}
}

// Heading builds a heading, clamping the level into 1..3.
func Heading(level int, spans ...Span) Block {
	if level < 1 {
		level = 1
	}
	if level > 3 {
		level = 3
	}
	return Block{Kind: KindHeading, Level: level, Spans: spans}
}

// Toggle builds a collapsible block.
func Toggle(summary []Span, children []Block) Block {
	return Block{Kind: KindToggle, Spans: summary, Children: children}
}

// CodeBlock builds a code block.
func CodeBlock(language, text string) Block {
	if language == "" {
		language = DefaultCodeLanguage
	}
	return Block{Kind: KindCode, Spans: []Span{Text(text)}, Code: &Code{Language: language}}
}

// ImageBlock builds an image block.
func ImageBlock(src, alt string, caption ...Span) Block {
	return Block{Kind: KindImage, Image: &Image{Source: src, Alt: alt, Caption: caption}}
}

// Divider builds a divider.
func Divider() Block {
	return Block{Kind: KindDivider}
}

// PlainText concatenates the text of spans.
func PlainText(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// IsList reports whether the kind is a list item.
func (k Kind) IsList() bool {
	return k == KindBulletedItem || k == KindNumberedItem
}

// PlainText returns the visible text of a block, without children.
func (b Block) PlainText() string {
	switch b.Kind {
	case KindImage:
		if b.Image != nil {
			if c := PlainText(b.Image.Caption); c != "" {
				return c
			}
			return b.Image.Alt
		}
		return ""
	case KindTable:
		if b.Table == nil {
			return ""
		}
		var rows []string
		for _, row := range b.Table.Rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				cells = append(cells, PlainText(cell))
			}
			rows = append(rows, strings.Join(cells, "\t"))
		}
		return strings.Join(rows, "\n")
	default:
		return PlainText(b.Spans)
	}
}

// IsEmpty reports whether a block renders to nothing visible.
func (b Block) IsEmpty() bool {
	switch b.Kind {
	case KindParagraph, KindHeading, KindQuote, KindBulletedItem, KindNumberedItem:
		return strings.TrimSpace(PlainText(b.Spans)) == "" && len(b.Children) == 0
	case KindImage:
		return b.Image == nil || b.Image.Source == ""
	case KindTable:
		return b.Table == nil || len(b.Table.Rows) == 0
	case KindToggle:
		return strings.TrimSpace(PlainText(b.Spans)) == "" && len(b.Children) == 0
	default:
		return false
	}
}

// TruncateRunes cuts s to at most max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
