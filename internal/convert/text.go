package convert

import (
	"context"
	"regexp"
	"strings"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/textnorm"
	"github.com/gotrs-io/casesync/internal/utils"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n\s*`)

// TextToBlocks converts a text/plain body. Quoted history is detected on the raw lines
// and collapsed into a trailing toggle.
func (c *Converter) TextToBlocks(ctx context.Context, text string) []blocks.Block {
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	head, tail := lines, []string(nil)
	if idx, ok := textnorm.DetectQuotedThreadStart(lines); ok {
		head, tail = lines[:idx], lines[idx:]
	}
	out := c.textPart(ctx, strings.Join(head, "\n"))
	if len(tail) > 0 {
		if children := c.textPart(ctx, strings.Join(tail, "\n")); len(children) > 0 {
			out = append(out, blocks.Toggle([]blocks.Span{blocks.Text(PreviousThreadTitle)}, blocks.CapBlocks(children, blocks.MaxChildren)))
		}
	}
	return blocks.CapBlocks(out, blocks.MaxBlocks)
}

func (c *Converter) textPart(ctx context.Context, text string) []blocks.Block {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.textMode == PlainTextMarkdown {
		return c.convertHTML(ctx, utils.MarkdownToHTML(text), nil)
	}
	return textParagraphs(text)
}

// textParagraphs splits text on blank lines into paragraphs of bounded size.
func textParagraphs(text string) []blocks.Block {
	var out []blocks.Block
	for _, para := range blankLines.Split(strings.TrimSpace(text), -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, chunk := range chunkText(para, MaxTextParagraphRunes) {
			out = append(out, blocks.Block{Kind: blocks.KindParagraph, Spans: []blocks.Span{chunk}})
		}
	}
	return out
}
