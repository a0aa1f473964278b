// Package threading derives mail threading identity: thread ids, References chains,
// outbound threading headers, fresh Message-IDs and inbound dedup keys.
//
// Ids are kept bare (without angle brackets) internally and bracketed only when written
// into headers.
package threading

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxReferencesLength caps the rendered References header value.
const MaxReferencesLength = 2000

// TicketHeader carries the ticket id on outbound replies so answers can be matched without
// relying on the subject.
const TicketHeader = "X-Casesync-Ticket-ID"

// GmailThreadURL is the prefix of a Gmail web link to a thread.
const GmailThreadURL = "https://mail.google.com/mail/u/0/#all/"

// Headers are the threading fields of one inbound message.
type Headers struct {
	UID        uint32
	MessageID  string
	InReplyTo  string
	References string
	ThreadID   string
}

var messageIDPattern = regexp.MustCompile(`<([^<>]+)>`)

// NormalizeID strips whitespace, angle brackets and quotes from a message id.
func NormalizeID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, "\"")
	return strings.TrimSpace(value)
}

// Bracket renders a bare id for a header.
func Bracket(id string) string {
	id = NormalizeID(id)
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

// ParseIDs extracts the distinct bare ids from raw header values, in order.
// A value without angle brackets is treated as whitespace separated ids.
func ParseIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		id = NormalizeID(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			for _, field := range strings.Fields(raw) {
				add(field)
			}
			continue
		}
		for _, m := range matches {
			add(m[1])
		}
	}
	return ids
}

// DeriveThreadID returns the provider thread id, else the bare Message-ID.
func DeriveThreadID(h Headers) string {
	if id := strings.TrimSpace(h.ThreadID); id != "" {
		return id
	}
	return NormalizeID(h.MessageID)
}

// BuildReferences returns the References chain with the message's own id appended when
// missing. Order is preserved and repeats removed.
func BuildReferences(h Headers) []string {
	return ParseIDs(h.References, h.MessageID)
}

// ReferenceCandidates returns every id that can link the message to earlier mail: the
// References chain, the message's own id and In-Reply-To.
func ReferenceCandidates(h Headers) []string {
	return ParseIDs(h.References, h.MessageID, h.InReplyTo)
}

// Outbound holds the threading headers for one outbound message.
type Outbound struct {
	InReplyTo  string
	References []string
}

// OutboundHeaders resolves outbound threading. A non-empty parent becomes In-Reply-To;
// without one no In-Reply-To is set. References is the override list with the parent
// appended when missing.
func OutboundHeaders(parent string, references []string) Outbound {
	refs := ParseIDs(references...)
	out := Outbound{}
	if id := NormalizeID(parent); id != "" {
		out.InReplyTo = Bracket(id)
		refs = ParseIDs(append(refs, id)...)
	}
	out.References = refs
	return out
}

// ReferencesHeader renders References within MaxReferencesLength, dropping the oldest ids.
func (o Outbound) ReferencesHeader() string {
	return FormatReferences(o.References, MaxReferencesLength)
}

// FormatReferences joins ids as a header value no longer than max, dropping the oldest.
func FormatReferences(ids []string, max int) string {
	parts := bracketAll(ids)
	value := strings.Join(parts, " ")
	for max > 0 && len(value) > max && len(parts) > 1 {
		parts = parts[1:]
		value = strings.Join(parts, " ")
	}
	return value
}

func bracketAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if b := Bracket(id); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewMessageID generates a fresh bracketed Message-ID.
func NewMessageID(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = "localhost"
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// DomainOf returns the domain part of an address, for Message-ID generation.
func DomainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return strings.Trim(strings.TrimSpace(address[i+1:]), ">")
	}
	return ""
}

// DedupKey identifies one physical inbound message: the mailbox UID, falling back to the
// bare Message-ID when the UID is unknown.
func DedupKey(h Headers) string {
	if h.UID > 0 {
		return strconv.FormatUint(uint64(h.UID), 10)
	}
	return NormalizeID(h.MessageID)
}

// ThreadLink returns a Gmail web link for a provider thread id, or "" without one.
// Gmail reports X-GM-THRID in decimal while its links use hex.
func ThreadLink(threadID string) string {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ""
	}
	if n, err := strconv.ParseUint(threadID, 10, 64); err == nil {
		threadID = strconv.FormatUint(n, 16)
	}
	return GmailThreadURL + threadID
}
