package convert

import (
	"strings"
	"unicode/utf8"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/textnorm"
)

type lineRef struct {
	block  int
	offset int
}

// collapseQuotedThread moves everything from the first quoted-history marker into one
// trailing "Previous thread" toggle. A block containing the marker mid-way is split.
func collapseQuotedThread(bs []blocks.Block) []blocks.Block {
	var (
		lines []string
		refs  []lineRef
	)
	for i, b := range bs {
		if !quotable(b.Kind) {
			lines = append(lines, "")
			refs = append(refs, lineRef{block: i, offset: 0})
			continue
		}
		offset := 0
		for _, line := range strings.Split(blocks.PlainText(b.Spans), "\n") {
			lines = append(lines, line)
			refs = append(refs, lineRef{block: i, offset: offset})
			offset += utf8.RuneCountInString(line) + 1
		}
	}
	idx, ok := textnorm.DetectQuotedThreadStart(lines)
	if !ok {
		return bs
	}
	ref := refs[idx]

	head := append([]blocks.Block(nil), bs[:ref.block]...)
	var tail []blocks.Block
	if ref.offset == 0 {
		tail = append(tail, bs[ref.block:]...)
	} else {
		split := bs[ref.block]
		before, after := blocks.SplitSpans(split.Spans, ref.offset)
		first, rest := split, split
		first.Spans = blocks.NormalizeSpans(blocks.TrimSpans(before))
		first.Children = nil
		rest.Spans = blocks.NormalizeSpans(blocks.TrimSpans(after))
		if !first.IsEmpty() {
			head = append(head, first)
		}
		tail = append(tail, rest)
		tail = append(tail, bs[ref.block+1:]...)
	}
	for len(head) > 0 && head[len(head)-1].IsEmpty() {
		head = head[:len(head)-1]
	}
	toggle := blocks.Toggle([]blocks.Span{blocks.Text(PreviousThreadTitle)}, blocks.CapBlocks(tail, blocks.MaxChildren))
	return append(head, toggle)
}

func quotable(k blocks.Kind) bool {
	switch k {
	case blocks.KindParagraph, blocks.KindHeading, blocks.KindQuote, blocks.KindBulletedItem, blocks.KindNumberedItem:
		return true
	}
	return false
}
