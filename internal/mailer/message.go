// Package mailer composes outbound reply messages and delivers them over SMTP, to rendered
// files, or through a bounded worker pool wrapping either.
package mailer

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoRecipients is returned for a message without any To address.
var ErrNoRecipients = errors.New("mailer: no recipients")

// Transport delivers one message.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg *Message) error

func (f TransportFunc) Send(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound email. HTML is the complete wrapped document; Text is its plain
// alternative.
type Message struct {
	// Key identifies the source record; FileTransport uses it as the file name.
	Key string

	From     string
	FromName string
	To       []string
	Cc       []string
	Subject  string
	HTML     string
	Text     string

	// MessageID, InReplyTo and References hold header values with angle brackets.
	MessageID  string
	InReplyTo  string
	References string
	TicketID   string

	Date        time.Time
	Attachments []Attachment
}

// Recipients returns the envelope recipients: To then Cc, lowercased and deduplicated.
func (m *Message) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{m.To, m.Cc} {
		for _, addr := range list {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func (m *Message) validate() error {
	for _, addr := range m.To {
		if strings.TrimSpace(addr) != "" {
			return nil
		}
	}
	return ErrNoRecipients
}
