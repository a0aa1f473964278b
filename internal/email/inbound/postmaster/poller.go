package postmaster

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gotrs-io/casesync/internal/cursor"
	"github.com/gotrs-io/casesync/internal/email/inbound/connector"
)

// Poller runs one inbound pass: it fetches the messages above the stored UID marker and
// advances the marker after each message the handler accepts or skips.
type Poller struct {
	factory connector.Factory
	account connector.Account
	handler connector.Handler
	cursors cursor.Store
	halt    func() bool
	logger  *log.Logger
}

// errHalted ends a pass early when a shutdown was requested.
var errHalted = errors.New("postmaster: halted")

// PollerOption customizes Poller.
type PollerOption func(*Poller)

// WithPollerLogger overrides the logger used for diagnostics.
func WithPollerLogger(logger *log.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPollerHalt ends the pass before the next message once halt reports true. The
// message in progress always completes.
func WithPollerHalt(halt func() bool) PollerOption {
	return func(p *Poller) { p.halt = halt }
}

// NewPoller builds a poller for one mailbox.
func NewPoller(factory connector.Factory, account connector.Account, handler connector.Handler, cursors cursor.Store, opts ...PollerOption) *Poller {
	p := &Poller{
		factory: factory,
		account: account,
		handler: handler,
		cursors: cursors,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CursorName is the cursor key for the account's mailbox.
func (p *Poller) CursorName() string {
	return cursor.Scoped(cursor.InboundUID, p.account.Username+"/"+p.account.Mailbox())
}

// PollOnce processes every new message once and returns how many the handler saw. A handler
// failure stops the pass; the marker stays below the failed message.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	fetcher, err := p.factory.FetcherFor(p.account)
	if err != nil {
		return 0, fmt.Errorf("postmaster: %w", err)
	}
	name := p.CursorName()
	since, err := cursor.GetUID(ctx, p.cursors, name)
	if err != nil {
		return 0, fmt.Errorf("postmaster: read cursor: %w", err)
	}

	seen := 0
	wrapped := connector.HandlerFunc(func(ctx context.Context, msg *connector.FetchedMessage) error {
		if p.halt != nil && p.halt() {
			return errHalted
		}
		seen++
		herr := p.handler.Handle(ctx, msg)
		if herr != nil && !errors.Is(herr, connector.ErrUnhandled) {
			return herr
		}
		if msg.UID > since {
			if err := cursor.SetUID(ctx, p.cursors, name, msg.UID); err != nil {
				return fmt.Errorf("advance cursor: %w", err)
			}
			since = msg.UID
		}
		return herr
	})
	err = fetcher.Fetch(ctx, p.account, since, wrapped)
	if errors.Is(err, errHalted) {
		p.logf("postmaster: pass over %s halted after %d message(s), cursor at %d", p.account.Mailbox(), seen, since)
		return seen, nil
	}
	if err != nil {
		p.logf("postmaster: pass over %s stopped after %d message(s): %v", p.account.Mailbox(), seen, err)
		return seen, err
	}
	if seen > 0 {
		p.logf("postmaster: processed %d message(s) from %s, cursor at %d", seen, p.account.Mailbox(), since)
	}
	return seen, nil
}

func (p *Poller) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
