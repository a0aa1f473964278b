package filters

import (
	"context"
	"log"
	"strings"

	"github.com/gotrs-io/casesync/internal/caseresolver"
)

// RecipientHeaders are searched for a routing alias.
var RecipientHeaders = []string{"To", "Cc", "Bcc", "Delivered-To", "X-Original-To", "Envelope-To"}

// Aliases are the mailbox addresses that route mail into cases.
type Aliases struct {
	Technical string
	Support   string
	Tracking  string
}

// Match returns the route for a set of recipients. Tracking wins over technical, which wins
// over support.
func (a Aliases) Match(recipients []string) (caseresolver.Route, bool) {
	set := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		set[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	for _, c := range []struct {
		alias string
		route caseresolver.Route
	}{
		{a.Tracking, caseresolver.RouteTracking},
		{a.Technical, caseresolver.RouteTechnical},
		{a.Support, caseresolver.RouteSupport},
	} {
		alias := strings.ToLower(strings.TrimSpace(c.alias))
		if alias == "" {
			continue
		}
		if _, ok := set[alias]; ok {
			return c.route, true
		}
	}
	return "", false
}

// RoutingFilter annotates the route of mail addressed to an alias and ignores everything else.
type RoutingFilter struct {
	aliases Aliases
	logger  *log.Logger
}

// NewRoutingFilter constructs the filter instance.
func NewRoutingFilter(aliases Aliases, logger *log.Logger) *RoutingFilter {
	return &RoutingFilter{aliases: aliases, logger: logger}
}

// ID implements Filter.
func (f *RoutingFilter) ID() string { return "routing_alias" }

// Apply implements Filter.
func (f *RoutingFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil {
		return nil
	}
	if ignored, _ := Ignored(m); ignored {
		return nil
	}
	h, err := readHeader(m.Message.Raw)
	if err != nil {
		f.logf("routing_alias: parse failed for uid %d: %v", m.Message.UID, err)
		Ignore(m, ReasonNoAlias)
		return nil
	}
	route, ok := f.aliases.Match(headerAddresses(h, RecipientHeaders...))
	if !ok {
		f.logf("routing_alias: uid %d not addressed to an alias", m.Message.UID)
		Ignore(m, ReasonNoAlias)
		return nil
	}
	annotate(m, AnnotationRoute, route)
	return nil
}

// Route returns the route annotation, if any.
func Route(m *MessageContext) (caseresolver.Route, bool) {
	if m == nil || m.Annotations == nil {
		return "", false
	}
	route, ok := m.Annotations[AnnotationRoute].(caseresolver.Route)
	return route, ok
}

func (f *RoutingFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
