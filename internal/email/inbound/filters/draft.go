package filters

import (
	"context"
	"log"
	"strings"
)

// DraftFilter ignores unsent drafts that a mail provider exposes through IMAP.
type DraftFilter struct {
	logger *log.Logger
}

// NewDraftFilter constructs the filter instance.
func NewDraftFilter(logger *log.Logger) *DraftFilter {
	return &DraftFilter{logger: logger}
}

// ID implements Filter.
func (f *DraftFilter) ID() string { return "draft" }

// Apply implements Filter.
func (f *DraftFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	h, err := readHeader(m.Message.Raw)
	if err != nil {
		return nil
	}
	if _, ok := h["X-Gmail-Draft"]; !ok && !isDraftLabel(h.Get("X-Gmail-Labels")) {
		return nil
	}
	f.logf("draft: skipping uid %d", m.Message.UID)
	Ignore(m, ReasonDraft)
	return nil
}

func isDraftLabel(labels string) bool {
	for _, l := range strings.Split(labels, ",") {
		if strings.EqualFold(strings.TrimSpace(l), "Draft") {
			return true
		}
	}
	return false
}

func (f *DraftFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
