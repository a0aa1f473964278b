package filters

import (
	"context"
	"log"
	"strings"

	"github.com/gotrs-io/casesync/internal/textnorm"
	"github.com/gotrs-io/casesync/internal/threading"
)

// HeaderTokenFilter reads the ticket id header stamped on outbound replies.
type HeaderTokenFilter struct {
	logger *log.Logger
}

// NewHeaderTokenFilter returns a header-based ticket detector.
func NewHeaderTokenFilter(logger *log.Logger) *HeaderTokenFilter {
	return &HeaderTokenFilter{logger: logger}
}

// ID implements Filter.
func (f *HeaderTokenFilter) ID() string { return "ticket_header_token" }

// Apply implements Filter.
func (f *HeaderTokenFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	if TicketID(m) != "" {
		return nil
	}
	h, err := readHeader(m.Message.Raw)
	if err != nil {
		f.logf("ticket_header_token: parse failed: %v", err)
		return nil
	}
	for _, value := range headerValues(h, threading.TicketHeader) {
		if id := parseHeaderTicketID(value); id != "" {
			annotate(m, AnnotationTicketID, id)
			f.logf("ticket_header_token: detected ticket %s", id)
			return nil
		}
	}
	return nil
}

// parseHeaderTicketID accepts either a bare ten digit id or a bracketed token.
func parseHeaderTicketID(value string) string {
	if id := textnorm.FindTicketID(value); id != "" {
		return id
	}
	clean := strings.Trim(strings.TrimSpace(value), "<>[]")
	if len(clean) == 10 && isDigits(clean) {
		return clean
	}
	return ""
}

func isDigits(input string) bool {
	if input == "" {
		return false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (f *HeaderTokenFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
