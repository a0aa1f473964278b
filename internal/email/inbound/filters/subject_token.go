package filters

import (
	"context"
	"log"

	"github.com/gotrs-io/casesync/internal/textnorm"
)

// SubjectTokenFilter extracts "[##########]" ticket tokens from the Subject header.
type SubjectTokenFilter struct {
	logger *log.Logger
}

// NewSubjectTokenFilter constructs the filter instance.
func NewSubjectTokenFilter(logger *log.Logger) *SubjectTokenFilter {
	return &SubjectTokenFilter{logger: logger}
}

// ID implements Filter.
func (f *SubjectTokenFilter) ID() string { return "ticket_subject_token" }

// Apply scans the subject for a ticket token and stores the ticket id annotation.
func (f *SubjectTokenFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	if TicketID(m) != "" {
		return nil
	}
	h, err := readHeader(m.Message.Raw)
	if err != nil {
		f.logf("ticket_subject_token: parse failed: %v", err)
		return nil
	}
	for _, subject := range headerValues(h, "Subject") {
		if id := textnorm.FindTicketID(subject); id != "" {
			annotate(m, AnnotationTicketID, id)
			f.logf("ticket_subject_token: detected ticket %s", id)
			return nil
		}
	}
	return nil
}

func (f *SubjectTokenFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
