package postmaster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/url"
	"strconv"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/caseresolver"
	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/convert"
	"github.com/gotrs-io/casesync/internal/email/inbound/connector"
	"github.com/gotrs-io/casesync/internal/email/inbound/filters"
	"github.com/gotrs-io/casesync/internal/storage"
	"github.com/gotrs-io/casesync/internal/textnorm"
	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/workspace"
)

const (
	maxContactRelations = 100
	maxAttachmentFiles  = 100
	maxFileNameRunes    = 100
	attachmentKeyPrefix = "attachments"
	gmailSearchURL      = "https://mail.google.com/mail/u/0/#search/rfc822msgid:"
)

type caseResolver interface {
	Resolve(ctx context.Context, in caseresolver.Inbound) (caseresolver.Outcome, error)
}

type contactDirectory interface {
	Ensure(ctx context.Context, participants []contacts.Participant) (contacts.Result, error)
}

type blockConverter interface {
	HTMLToBlocks(ctx context.Context, content string, inline convert.InlineParts) []blocks.Block
	TextToBlocks(ctx context.Context, text string) []blocks.Block
}

type recorder interface {
	InboundMessage(action string)
	BlocksEmitted(n int)
}

// CaseProcessor files inbound mail into support cases and records each message in the
// Emails database.
type CaseProcessor struct {
	store     workspace.Store
	emails    workspace.EmailSchema
	resolver  caseResolver
	contacts  contactDirectory
	converter blockConverter
	uploader  storage.Uploader
	metrics   recorder
	logger    *log.Logger
	parser    envelopeParser
}

// CaseProcessorOption customizes CaseProcessor.
type CaseProcessorOption func(*CaseProcessor)

// NewCaseProcessor builds a processor writing to store.
func NewCaseProcessor(store workspace.Store, emails workspace.EmailSchema, resolver caseResolver, opts ...CaseProcessorOption) *CaseProcessor {
	cp := &CaseProcessor{
		store:    store,
		emails:   emails,
		resolver: resolver,
		logger:   log.Default(),
		parser: envelopeParser{
			decoder:         &mime.WordDecoder{},
			bodyLimit:       defaultBodyLimit,
			attachmentLimit: defaultAttachmentLimit,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cp)
		}
	}
	if cp.converter == nil {
		cp.converter = convert.New(convert.WithLogger(cp.logger))
	}
	cp.parser.logf = cp.logf
	return cp
}

// WithCaseProcessorLogger overrides the logger used for diagnostics.
func WithCaseProcessorLogger(logger *log.Logger) CaseProcessorOption {
	return func(cp *CaseProcessor) {
		if logger != nil {
			cp.logger = logger
		}
	}
}

// WithCaseProcessorContacts links participants to Contact pages.
func WithCaseProcessorContacts(d contactDirectory) CaseProcessorOption {
	return func(cp *CaseProcessor) { cp.contacts = d }
}

// WithCaseProcessorConverter sets the body converter.
func WithCaseProcessorConverter(c blockConverter) CaseProcessorOption {
	return func(cp *CaseProcessor) { cp.converter = c }
}

// WithCaseProcessorUploader stores attachments durably. Without one attachments are listed
// by name with a link into the mail thread.
func WithCaseProcessorUploader(u storage.Uploader) CaseProcessorOption {
	return func(cp *CaseProcessor) { cp.uploader = u }
}

// WithCaseProcessorMetrics records outcomes.
func WithCaseProcessorMetrics(m recorder) CaseProcessorOption {
	return func(cp *CaseProcessor) { cp.metrics = m }
}

// WithCaseProcessorBodyLimit caps the bytes read per text part.
func WithCaseProcessorBodyLimit(limit int64) CaseProcessorOption {
	return func(cp *CaseProcessor) {
		if limit > 0 {
			cp.parser.bodyLimit = limit
		}
	}
}

// WithCaseProcessorAttachmentLimit caps the bytes read per attachment.
func WithCaseProcessorAttachmentLimit(limit int64) CaseProcessorOption {
	return func(cp *CaseProcessor) {
		if limit > 0 {
			cp.parser.attachmentLimit = limit
		}
	}
}

// Process implements Processor. Duplicates are detected before any write and count as
// success. A store failure aborts the message so it is retried on the next pass.
func (cp *CaseProcessor) Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	if msg == nil {
		return Result{}, errors.New("postmaster: message required")
	}
	if cp == nil || cp.store == nil || cp.resolver == nil {
		return Result{}, errors.New("postmaster: workspace unavailable")
	}
	if ignored, reason := filters.Ignored(meta); ignored {
		cp.logf("postmaster: ignoring uid %d (%s)", msg.UID, reason)
		return cp.done(Result{Action: ActionIgnored, Reason: reason}), nil
	}
	route, ok := filters.Route(meta)
	if !ok {
		cp.logf("postmaster: ignoring uid %d without route", msg.UID)
		return cp.done(Result{Action: ActionIgnored, Reason: filters.ReasonNoAlias}), nil
	}

	env := cp.parser.parse(msg.Raw, msg.UID)
	if existing, err := cp.existing(ctx, env.Headers); err != nil {
		return Result{}, err
	} else if existing != nil {
		cp.logf("postmaster: uid %d already recorded as %s", msg.UID, existing.ID)
		return cp.done(Result{EmailID: existing.ID, Action: ActionDuplicate}), nil
	}

	var linked contacts.Result
	if cp.contacts != nil {
		var err error
		if linked, err = cp.contacts.Ensure(ctx, env.Participants()); err != nil {
			return Result{}, fmt.Errorf("postmaster: contacts: %w", err)
		}
	}

	outcome, err := cp.resolver.Resolve(ctx, caseresolver.Inbound{
		Subject:  env.Subject,
		Body:     env.Body(),
		Ticket:   filters.TicketID(meta),
		From:     env.FromAddresses(),
		Route:    route,
		Headers:  env.Headers,
		Partners: linked.Partners,
	})
	if err != nil {
		return Result{}, fmt.Errorf("postmaster: resolve case: %w", err)
	}

	content := cp.content(ctx, env)
	if cp.metrics != nil {
		cp.metrics.BlocksEmitted(len(content))
	}
	props := cp.emailProperties(ctx, msg, env, outcome, linked)

	// Another worker may have recorded the message while the case was resolved.
	if existing, err := cp.existing(ctx, env.Headers); err != nil {
		return Result{}, err
	} else if existing != nil {
		return cp.done(Result{CaseID: outcome.Case.ID, EmailID: existing.ID, Action: ActionDuplicate}), nil
	}
	page, err := cp.store.CreatePage(ctx, cp.emails.Database, props, content)
	if err != nil {
		return Result{}, fmt.Errorf("postmaster: create email record: %w", err)
	}

	res := Result{CaseID: outcome.Case.ID, EmailID: page.ID, TicketID: outcome.TicketID, Action: ActionFollowUp, Reason: outcome.Reason}
	if outcome.Created {
		res.Action = ActionNewCase
	}
	cp.logf("postmaster: uid %d -> case %s (%s) email %s", msg.UID, outcome.TicketID, res.Action, page.ID)
	return cp.done(res), nil
}

// existing returns the Emails record already holding this message, if any.
func (cp *CaseProcessor) existing(ctx context.Context, h threading.Headers) (*workspace.Page, error) {
	var filter workspace.Filter
	switch {
	case h.UID > 0:
		filter = workspace.Equals(cp.emails.UID, threading.DedupKey(h))
	case h.MessageID != "":
		filter = workspace.Equals(cp.emails.MessageID, threading.DedupKey(h))
	default:
		return nil, nil
	}
	pages, err := cp.store.Query(ctx, cp.emails.Database, workspace.Query{
		Filters: []workspace.Filter{filter},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("postmaster: dedup lookup: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

func (cp *CaseProcessor) content(ctx context.Context, env Envelope) []blocks.Block {
	if env.HTML != "" {
		return cp.converter.HTMLToBlocks(ctx, env.HTML, env.Inline)
	}
	return cp.converter.TextToBlocks(ctx, env.Text)
}

func (cp *CaseProcessor) emailProperties(ctx context.Context, msg *connector.FetchedMessage, env Envelope, outcome caseresolver.Outcome, linked contacts.Result) workspace.Properties {
	s := cp.emails
	title := textnorm.DisplaySubject(env.Subject)
	props := workspace.Properties{
		s.Title: workspace.Title(blocks.TruncateRunes(title, maxTitleRunes)),
		s.To:    workspace.MultiSelect(limitStrings(addressesOf(env.To), maxAddressesPerField)...),
	}
	if from := env.FromAddresses(); len(from) > 0 {
		props[s.From] = workspace.Email(from[0])
	}
	if len(env.Cc) > 0 {
		props[s.CC] = workspace.MultiSelect(limitStrings(addressesOf(env.Cc), maxAddressesPerField)...)
	}
	if outcome.Case.ID != "" {
		props[s.Case] = workspace.Relation(outcome.Case.ID)
	}
	if outcome.TicketID != "" {
		props[s.TicketID] = workspace.RichText(outcome.TicketID)
	}
	if len(linked.ContactIDs) > 0 {
		props[s.Contacts] = workspace.Relation(limitStrings(linked.ContactIDs, maxContactRelations)...)
	}
	if msg.UID > 0 {
		props[s.UID] = workspace.RichText(strconv.FormatUint(uint64(msg.UID), 10))
	}
	received := env.Date
	if received.IsZero() {
		received = msg.ReceivedAt
	}
	if !received.IsZero() {
		props[s.Received] = workspace.Date(received)
	}
	if id := threading.DeriveThreadID(env.Headers); id != "" {
		props[s.ThreadID] = workspace.RichText(id)
	}

	threadLink := threading.ThreadLink(env.Headers.ThreadID)
	var links []workspace.File
	if threadLink != "" {
		links = append(links, workspace.File{Name: "Email (thread)", URL: threadLink})
	}
	if env.Headers.MessageID != "" {
		props[s.MessageID] = workspace.RichText(env.Headers.MessageID)
		links = append(links, workspace.File{Name: "Email (message)", URL: gmailSearchURL + url.QueryEscape(env.Headers.MessageID)})
	}
	if len(links) > 0 {
		props[s.Link] = workspace.Files(links...)
	}
	if refs := threading.BuildReferences(env.Headers); len(refs) > 0 {
		props[s.References] = workspace.RichText(threading.FormatReferences(refs, threading.MaxReferencesLength))
	}
	if files := cp.attachmentFiles(ctx, env.Attachments, threadLink); len(files) > 0 {
		props[s.Attachments] = workspace.Files(files...)
	}
	return props
}

// attachmentFiles uploads attachments when storage is configured. Attachments that could
// not be stored are listed by name, linked into the mail thread when one is known.
func (cp *CaseProcessor) attachmentFiles(ctx context.Context, atts []Attachment, threadLink string) []workspace.File {
	var files []workspace.File
	for _, att := range atts {
		if len(files) >= maxAttachmentFiles {
			break
		}
		name := blocks.TruncateRunes(att.Filename, maxFileNameRunes)
		if cp.uploader != nil {
			key := storage.KeyFor(attachmentKeyPrefix, att.Data, att.Filename)
			u, err := cp.uploader.Upload(ctx, key, att.Data, att.ContentType)
			if err == nil {
				files = append(files, workspace.File{Name: name, URL: u})
				continue
			}
			cp.logf("postmaster: upload %s failed: %v", att.Filename, err)
		}
		if threadLink == "" {
			files = append(files, workspace.File{Name: name})
			continue
		}
		files = append(files, workspace.File{Name: name, URL: threadLink + "#att-" + url.PathEscape(att.Filename)})
	}
	return files
}

func (cp *CaseProcessor) done(res Result) Result {
	if cp.metrics != nil {
		cp.metrics.InboundMessage(res.Action)
	}
	return res
}

func (cp *CaseProcessor) logf(format string, args ...any) {
	if cp == nil || cp.logger == nil {
		return
	}
	cp.logger.Printf(format, args...)
}

func limitStrings(values []string, max int) []string {
	if len(values) > max {
		return values[:max]
	}
	return values
}
