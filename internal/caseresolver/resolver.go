// Package caseresolver maps inbound mail onto Support Case pages: it ranks existing
// cases, creates new ones per routing alias, and drives the case status machine.
package caseresolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/textnorm"
	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/workspace"
)

// Route is the routing alias a message was addressed to.
type Route string

const (
	RouteTechnical Route = "technical"
	RouteSupport   Route = "support"
	RouteTracking  Route = "tracking"
)

// TrackingPolicy decides how tracking mail treats an existing case.
type TrackingPolicy string

const (
	// TrackingKeep applies the normal status rule.
	TrackingKeep TrackingPolicy = "keep"
	// TrackingResolve forces the case to Resolved.
	TrackingResolve TrackingPolicy = "resolve"
)

// Ranking reasons.
const (
	ReasonTicketID        = "ticket_id"
	ReasonTitleReferences = "title_references"
	ReasonTitle           = "title"
)

// MaxPartners bounds the partner relation written on a case.
const MaxPartners = 10

// ErrNoRoute is returned when asked to create a case without a routing alias.
var ErrNoRoute = errors.New("caseresolver: message has no routing alias")

// Inbound is what the resolver needs to know about a message.
type Inbound struct {
	Subject string
	Body    string
	// Ticket is a ticket id read from the headers; it wins over subject and body tokens.
	Ticket   string
	From     []string
	Route    Route
	Headers  threading.Headers
	Partners []string
}

// Candidate is an existing case that may own the message.
type Candidate struct {
	Case   workspace.Page
	Reason string
}

// Outcome describes a resolution.
type Outcome struct {
	Case     workspace.Page
	Reason   string
	TicketID string
	Created  bool
	Patched  bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock used for ticket id generation.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTrackingPolicy sets how tracking mail updates existing cases.
func WithTrackingPolicy(p TrackingPolicy) Option {
	return func(r *Resolver) {
		if p != "" {
			r.tracking = p
		}
	}
}

// WithInternalDomains marks senders of these domains as internal.
func WithInternalDomains(d contacts.Domains) Option {
	return func(r *Resolver) {
		if d != nil {
			r.internal = d
		}
	}
}

// Resolver finds or creates the case for an inbound message.
type Resolver struct {
	store    workspace.Store
	cases    workspace.CaseSchema
	emails   workspace.EmailSchema
	internal contacts.Domains
	tracking TrackingPolicy
	now      func() time.Time
	logger   *log.Logger
}

// New builds a Resolver over the case and email databases of schema.
func New(store workspace.Store, schema workspace.Schema, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		cases:    schema.Cases,
		emails:   schema.Emails,
		internal: contacts.Domains{},
		tracking: TrackingKeep,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Resolver) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("resolver: "+format, args...)
	}
}

// TicketID returns the ticket id carried by the message: the header id, then the subject,
// then the body.
func (in Inbound) TicketID() string {
	if in.Ticket != "" {
		return in.Ticket
	}
	id, _ := textnorm.ExtractTicketID(in.Subject, in.Body)
	return id
}

// External reports whether any sender is outside the internal domains. A message
// without a sender is treated as external.
func (r *Resolver) External(in Inbound) bool {
	if len(in.From) == 0 {
		return true
	}
	for _, addr := range in.From {
		if !r.internal.Internal(addr) {
			return true
		}
	}
	return false
}

// Rank lists the existing cases that may own the message, best first. A ticket id
// match wins outright. Otherwise cases titled like the cleaned subject qualify when an
// email linked to them shares a Message-ID with the message's reference chain. A message
// with no usable ids falls back to title equality alone. Ties go to the most recently
// updated case.
func (r *Resolver) Rank(ctx context.Context, in Inbound) ([]Candidate, error) {
	if id := in.TicketID(); id != "" {
		pages, err := r.store.Query(ctx, r.cases.Database, workspace.Query{
			Filters: []workspace.Filter{workspace.Equals(r.cases.TicketID, id)},
		})
		if err != nil {
			return nil, fmt.Errorf("resolver: ticket lookup: %w", err)
		}
		if len(pages) > 0 {
			return candidates(pages, ReasonTicketID), nil
		}
	}

	title := textnorm.CleanSubject(in.Subject)
	if title == "" {
		return nil, nil
	}
	pages, err := r.store.Query(ctx, r.cases.Database, workspace.Query{
		Filters: []workspace.Filter{workspace.Equals(r.cases.Title, title)},
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: title lookup: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	refs := threading.ReferenceCandidates(in.Headers)
	if len(refs) == 0 {
		return candidates(pages, ReasonTitle), nil
	}
	var matched []workspace.Page
	for _, p := range pages {
		ok, err := r.overlaps(ctx, p.ID, refs)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return candidates(matched, ReasonTitleReferences), nil
}

func (r *Resolver) overlaps(ctx context.Context, caseID string, refs []string) (bool, error) {
	q := workspace.Query{
		Filters: []workspace.Filter{workspace.Equals(r.emails.Case, caseID)},
		Limit:   1,
	}
	for _, id := range refs {
		q.AnyOf = append(q.AnyOf, workspace.Equals(r.emails.MessageID, id))
	}
	pages, err := r.store.Query(ctx, r.emails.Database, q)
	if err != nil {
		return false, fmt.Errorf("resolver: reference lookup: %w", err)
	}
	return len(pages) > 0, nil
}

func candidates(pages []workspace.Page, reason string) []Candidate {
	sorted := append([]workspace.Page(nil), pages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	out := make([]Candidate, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, Candidate{Case: p, Reason: reason})
	}
	return out
}

// Resolve returns the case owning the message, updating or creating it as needed.
func (r *Resolver) Resolve(ctx context.Context, in Inbound) (Outcome, error) {
	ranked, err := r.Rank(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	if len(ranked) > 0 {
		return r.update(ctx, in, ranked[0])
	}
	return r.create(ctx, in)
}

// NextStatus applies the inbound transition to a case status. Only external mail moves
// a case, and only out of statuses other than Open and New reply.
func NextStatus(current string, external bool) (string, bool) {
	if !external {
		return current, false
	}
	switch current {
	case workspace.StatusOpen, workspace.StatusNewReply:
		return current, false
	}
	return workspace.StatusNewReply, true
}

func (r *Resolver) update(ctx context.Context, in Inbound, c Candidate) (Outcome, error) {
	page := c.Case
	out := Outcome{Case: page, Reason: c.Reason, TicketID: page.Properties.Text(r.cases.TicketID)}
	patch := workspace.Properties{}

	current := page.Properties.Text(r.cases.Status)
	if in.Route == RouteTracking && r.tracking == TrackingResolve {
		if current != workspace.StatusResolved {
			patch[r.cases.Status] = workspace.Select(workspace.StatusResolved)
		}
	} else if next, changed := NextStatus(current, r.External(in)); changed {
		patch[r.cases.Status] = workspace.Select(next)
	}
	if len(in.Partners) > 0 && !page.Properties.Has(r.cases.Partner) {
		patch[r.cases.Partner] = workspace.Relation(limit(in.Partners, MaxPartners)...)
	}
	if len(patch) == 0 {
		return out, nil
	}
	updated, err := r.store.PatchProperties(ctx, page.ID, patch)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolver: update case %s: %w", page.ID, err)
	}
	r.logf("updated case %s (%s) fields=%s", page.ID, c.Reason, strings.Join(patch.Names(), ","))
	out.Case = updated
	out.Patched = true
	return out, nil
}

func (r *Resolver) create(ctx context.Context, in Inbound) (Outcome, error) {
	status, caseType, err := initialState(in.Route)
	if err != nil {
		return Outcome{}, err
	}
	ticketID := in.TicketID()
	if ticketID == "" {
		if ticketID, err = r.newTicketID(ctx); err != nil {
			return Outcome{}, err
		}
	}
	props := workspace.Properties{
		r.cases.Title:    workspace.Title(textnorm.DisplaySubject(in.Subject)),
		r.cases.Status:   workspace.Select(status),
		r.cases.Type:     workspace.MultiSelect(caseType),
		r.cases.TicketID: workspace.RichText(ticketID),
	}
	if len(in.Partners) > 0 {
		props[r.cases.Partner] = workspace.Relation(limit(in.Partners, MaxPartners)...)
	}
	page, err := r.store.CreatePage(ctx, r.cases.Database, props, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolver: create case: %w", err)
	}
	r.logf("created case %s ticket=%s type=%s status=%s", page.ID, ticketID, caseType, status)
	return Outcome{Case: page, TicketID: ticketID, Created: true}, nil
}

func initialState(route Route) (status, caseType string, err error) {
	switch route {
	case RouteTechnical:
		return workspace.StatusOpen, workspace.TypeTechnical, nil
	case RouteSupport:
		return workspace.StatusOpen, workspace.TypeSupport, nil
	case RouteTracking:
		return workspace.StatusResolved, workspace.TypeTracking, nil
	}
	return "", "", ErrNoRoute
}

// newTicketID derives a ten digit id from the clock's unix seconds and bumps it
// until no case uses it.
func (r *Resolver) newTicketID(ctx context.Context) (string, error) {
	n := r.now().Unix() % 1e10
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("%010d", n)
		used, err := r.store.Query(ctx, r.cases.Database, workspace.Query{
			Filters: []workspace.Filter{workspace.Equals(r.cases.TicketID, id)},
			Limit:   1,
		})
		if err != nil {
			return "", fmt.Errorf("resolver: ticket id check: %w", err)
		}
		if len(used) == 0 {
			return id, nil
		}
		n = (n + 1) % 1e10
	}
	return "", errors.New("resolver: no free ticket id")
}

func limit(ids []string, max int) []string {
	if len(ids) > max {
		return ids[:max]
	}
	return ids
}
