// Package outbound turns authored reply pages into sent email.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/convert"
	"github.com/gotrs-io/casesync/internal/mailer"
	"github.com/gotrs-io/casesync/internal/template"
	"github.com/gotrs-io/casesync/internal/textnorm"
	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/workspace"
)

// Results recorded per reply page.
const (
	ResultSent     = "sent"
	ResultRendered = "rendered"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Skip reasons.
const (
	ReasonNotRequested = "not_requested"
	ReasonAlreadySent  = "already_sent"
	ReasonEmptySubject = "empty_subject"
	ReasonNoRecipients = "no_recipients"
)

type htmlRenderer interface {
	BlocksToHTML(ctx context.Context, bs []blocks.Block) string
}

type recorder interface {
	OutboundReply(result string)
}

// Outcome describes what happened to one reply page.
type Outcome struct {
	PageID    string
	Result    string
	Reason    string
	MessageID string
	Path      string
}

// ReplyProcessor renders reply pages through the wrapper template and delivers them. With
// sending disabled the message is written by the renderer transport and Sent stays unset.
type ReplyProcessor struct {
	store       workspace.Store
	schema      workspace.Schema
	wrapper     *template.WrapperCache
	transport   mailer.Transport
	renderer    *mailer.FileTransport
	converter   htmlRenderer
	downloader  downloader
	concurrency int
	sendEnabled bool
	from        string
	fromName    string
	metrics     recorder
	logger      *log.Logger
	now         func() time.Time
}

// Option customizes ReplyProcessor.
type Option func(*ReplyProcessor)

// NewReplyProcessor builds a processor reading reply pages from store and sending through
// transport.
func NewReplyProcessor(store workspace.Store, schema workspace.Schema, wrapper *template.WrapperCache, transport mailer.Transport, opts ...Option) *ReplyProcessor {
	p := &ReplyProcessor{
		store:       store,
		schema:      schema,
		wrapper:     wrapper,
		transport:   transport,
		concurrency: DefaultDownloadConcurrency,
		sendEnabled: true,
		logger:      log.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.converter == nil {
		p.converter = convert.New(convert.WithLogger(p.logger))
	}
	if p.wrapper == nil {
		p.wrapper = template.NewWrapperCache("", "")
	}
	return p
}

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(p *ReplyProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConverter sets the block renderer.
func WithConverter(c htmlRenderer) Option {
	return func(p *ReplyProcessor) { p.converter = c }
}

// WithRenderer sets where messages go when sending is disabled, and for Render.
func WithRenderer(r *mailer.FileTransport) Option {
	return func(p *ReplyProcessor) { p.renderer = r }
}

// WithSendEnabled toggles real delivery.
func WithSendEnabled(enabled bool) Option {
	return func(p *ReplyProcessor) { p.sendEnabled = enabled }
}

// WithDefaultFrom sets the sender used when a page names none.
func WithDefaultFrom(address, name string) Option {
	return func(p *ReplyProcessor) {
		p.from = strings.TrimSpace(address)
		p.fromName = strings.TrimSpace(name)
	}
}

// WithDownloader sets the attachment downloader.
func WithDownloader(d downloader) Option {
	return func(p *ReplyProcessor) { p.downloader = d }
}

// WithDownloadConcurrency bounds parallel attachment downloads. Values below 1 mean 1.
func WithDownloadConcurrency(n int) Option {
	return func(p *ReplyProcessor) {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
	}
}

// WithMetrics records outcomes.
func WithMetrics(m recorder) Option {
	return func(p *ReplyProcessor) { p.metrics = m }
}

// WithClock overrides the message date source.
func WithClock(now func() time.Time) Option {
	return func(p *ReplyProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// Process sends or renders one reply page. A nil error with a skipped or rejected result
// means the page needs no retry.
func (p *ReplyProcessor) Process(ctx context.Context, page workspace.Page) (out Outcome, err error) {
	out = Outcome{PageID: page.ID}
	defer func() {
		if err != nil {
			out.Result = ResultFailed
		}
		if p.metrics != nil {
			p.metrics.OutboundReply(out.Result)
		}
	}()

	rs := p.schema.Replies
	if !page.Properties.Bool(rs.Send) {
		out.Result, out.Reason = ResultSkipped, ReasonNotRequested
		return out, nil
	}
	if page.Properties.Bool(rs.Sent) {
		out.Result, out.Reason = ResultSkipped, ReasonAlreadySent
		return out, nil
	}

	msg, reason, err := p.build(ctx, page, p.sendEnabled)
	if err != nil {
		return out, err
	}
	if reason != "" {
		p.logf("outbound: page %s skipped: %s", page.ID, reason)
		out.Result, out.Reason = ResultSkipped, reason
		return out, nil
	}
	out.MessageID = msg.MessageID

	if !p.sendEnabled {
		path, err := p.render(ctx, msg)
		if err != nil {
			return out, err
		}
		out.Result, out.Path = ResultRendered, path
		return out, nil
	}

	if err := p.transport.Send(ctx, msg); err != nil {
		var se *mailer.SendError
		if errors.As(err, &se) && se.Permanent() {
			p.logf("outbound: page %s rejected by relay (%d): %v", page.ID, se.Code, err)
			out.Result, out.Reason = ResultRejected, err.Error()
			return out, nil
		}
		return out, fmt.Errorf("outbound: send page %s: %w", page.ID, err)
	}
	if _, err := p.store.PatchProperties(ctx, page.ID, workspace.Properties{rs.Sent: workspace.Checkbox(true)}); err != nil {
		return out, fmt.Errorf("outbound: page %s was sent as %s but marking it sent failed: %w", page.ID, msg.MessageID, err)
	}
	p.logf("outbound: page %s sent as %s to %s", page.ID, msg.MessageID, strings.Join(msg.To, ", "))
	out.Result = ResultSent
	return out, nil
}

// Render writes the message for pageID through the renderer without sending or touching
// the page, and returns the file path.
func (p *ReplyProcessor) Render(ctx context.Context, pageID string) (string, error) {
	page, err := p.store.GetPage(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("outbound: load page %s: %w", pageID, err)
	}
	msg, reason, err := p.build(ctx, page, false)
	if err != nil {
		return "", err
	}
	if reason == ReasonEmptySubject {
		return "", fmt.Errorf("outbound: page %s: %s", pageID, reason)
	}
	return p.render(ctx, msg)
}

func (p *ReplyProcessor) render(ctx context.Context, msg *mailer.Message) (string, error) {
	if p.renderer == nil {
		return "", errors.New("outbound: no render directory configured")
	}
	if err := p.renderer.Send(ctx, msg); err != nil {
		return "", err
	}
	return p.renderer.Path(msg.Key), nil
}

// build assembles the message for page. A non-empty reason means the page cannot be sent.
func (p *ReplyProcessor) build(ctx context.Context, page workspace.Page, withAttachments bool) (*mailer.Message, string, error) {
	rs := p.schema.Replies
	props := page.Properties

	subject := textnorm.CleanSubject(props.Text(rs.Title))
	if subject == "" {
		return nil, ReasonEmptySubject, nil
	}
	to := workspace.AddressesOf(props[rs.To])
	cc := workspace.AddressesOf(props[rs.CC])
	from := p.from
	if senders := workspace.AddressesOf(props[rs.From]); len(senders) > 0 {
		from = senders[0]
	}

	content, err := p.store.FetchBlocks(ctx, page.ID)
	if err != nil {
		return nil, "", fmt.Errorf("outbound: fetch blocks of %s: %w", page.ID, err)
	}
	body := p.converter.BlocksToHTML(ctx, content)

	ticketID, err := p.ticketID(ctx, props)
	if err != nil {
		return nil, "", err
	}
	headers, err := p.threading(ctx, props)
	if err != nil {
		return nil, "", err
	}
	if headers.InReplyTo != "" {
		subject = textnorm.ReplySubject(subject)
	}

	creator := ""
	if props.Bool(rs.IncludeName) {
		creator = page.CreatedBy.Name
	}
	html, err := p.wrapper.Render(template.WrapperData{
		Subject:  subject,
		Body:     body,
		From:     from,
		TicketID: ticketID,
		Creator:  creator,
	})
	if err != nil {
		return nil, "", err
	}

	msg := &mailer.Message{
		Key:        page.ID,
		From:       from,
		FromName:   p.fromName,
		To:         to,
		Cc:         cc,
		Subject:    subject,
		HTML:       html,
		MessageID:  threading.NewMessageID(threading.DomainOf(from)),
		InReplyTo:  headers.InReplyTo,
		References: headers.ReferencesHeader(),
		TicketID:   ticketID,
		Date:       p.now(),
	}
	if len(to) == 0 {
		return msg, ReasonNoRecipients, nil
	}
	if withAttachments {
		msg.Attachments = p.downloadAttachments(ctx, props[rs.Attachments].Files)
	}
	return msg, "", nil
}

// ticketID returns the page's ticket id, else the linked case's.
func (p *ReplyProcessor) ticketID(ctx context.Context, props workspace.Properties) (string, error) {
	if id := strings.TrimSpace(props.Text(p.schema.Replies.TicketID)); id != "" {
		return id, nil
	}
	cases := props.Items(p.schema.Replies.Case)
	if len(cases) == 0 {
		return "", nil
	}
	c, err := p.store.GetPage(ctx, cases[0])
	if errors.Is(err, workspace.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("outbound: load case %s: %w", cases[0], err)
	}
	return strings.TrimSpace(c.Properties.Text(p.schema.Cases.TicketID)), nil
}

// threading resolves In-Reply-To and References. The page's own overrides win; without an
// In-Reply-To override the email record named by the reply-to relation supplies the parent
// and its References chain.
func (p *ReplyProcessor) threading(ctx context.Context, props workspace.Properties) (threading.Outbound, error) {
	rs := p.schema.Replies
	parent := props.Text(rs.InReplyTo)
	refs := threading.ParseIDs(props.Text(rs.References))

	if threading.NormalizeID(parent) == "" {
		if ids := props.Items(rs.ReplyTo); len(ids) > 0 {
			record, err := p.store.GetPage(ctx, ids[0])
			switch {
			case errors.Is(err, workspace.ErrNotFound):
				p.logf("outbound: reply-to record %s not found", ids[0])
			case err != nil:
				return threading.Outbound{}, fmt.Errorf("outbound: load reply-to record %s: %w", ids[0], err)
			default:
				parent = record.Properties.Text(p.schema.Emails.MessageID)
				if len(refs) == 0 {
					refs = threading.ParseIDs(record.Properties.Text(p.schema.Emails.References))
				}
			}
		}
	}
	return threading.OutboundHeaders(parent, refs), nil
}

func (p *ReplyProcessor) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
