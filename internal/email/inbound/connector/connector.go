package connector

import (
	"context"
	"errors"
	"time"
)

// ErrUnhandled tells a fetcher the message was deliberately left alone: the cursor may
// move past it but it must not be archived.
var ErrUnhandled = errors.New("connector: message not handled")

// Account carries the fields a connector needs to open the mailbox.
type Account struct {
	Type          string // imap, imaps
	Host          string
	Port          int
	Username      string
	Password      []byte
	Folder        string
	ArchiveFolder string
	AutoArchive   bool
	BatchSize     int
}

// Mailbox returns the folder to read, INBOX by default.
func (a Account) Mailbox() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	Connector  string
	UID        uint32
	Folder     string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
}

// Handler receives fully fetched messages in ascending UID order.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error {
	return f(ctx, msg)
}

// Fetcher implementations stream messages with UIDs above sinceUID to a handler.
// A handler error stops the fetch so later messages are retried on the next pass.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, sinceUID uint32, handler Handler) error
}

// Factory resolves the connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
