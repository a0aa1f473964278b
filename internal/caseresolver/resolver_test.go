package caseresolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/workspace"
)

var schema = workspace.DefaultSchema()

type failingStore struct {
	*workspace.MemoryStore
}

func (failingStore) Query(context.Context, string, workspace.Query) ([]workspace.Page, error) {
	return nil, errors.New("store unavailable")
}

func newResolver(t *testing.T, opts ...Option) (*Resolver, *workspace.MemoryStore) {
	t.Helper()
	store := workspace.NewMemoryStore()
	opts = append([]Option{
		WithInternalDomains(contacts.NewDomains("example.com")),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithLogger(nil),
	}, opts...)
	return New(store, schema, opts...), store
}

func createCase(t *testing.T, store *workspace.MemoryStore, title, status, ticket string, extra workspace.Properties) workspace.Page {
	t.Helper()
	props := workspace.Properties{
		schema.Cases.Title:    workspace.Title(title),
		schema.Cases.Status:   workspace.Select(status),
		schema.Cases.TicketID: workspace.RichText(ticket),
	}
	for k, v := range extra {
		props[k] = v
	}
	p, err := store.CreatePage(context.Background(), schema.Cases.Database, props, nil)
	require.NoError(t, err)
	return p
}

func linkEmail(t *testing.T, store *workspace.MemoryStore, caseID, messageID string) {
	t.Helper()
	_, err := store.CreatePage(context.Background(), schema.Emails.Database, workspace.Properties{
		schema.Emails.Case:      workspace.Relation(caseID),
		schema.Emails.MessageID: workspace.RichText(messageID),
	}, nil)
	require.NoError(t, err)
}

func TestRankByTicketID(t *testing.T) {
	r, store := newResolver(t)
	target := createCase(t, store, "Anything", workspace.StatusOpen, "1234567890", nil)
	createCase(t, store, "Printer jam", workspace.StatusOpen, "1111111111", nil)

	ranked, err := r.Rank(context.Background(), Inbound{Subject: "Re: Printer jam [1234567890]"})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, target.ID, ranked[0].Case.ID)
	assert.Equal(t, ReasonTicketID, ranked[0].Reason)
}

func TestRankTicketIDInBody(t *testing.T) {
	r, store := newResolver(t)
	target := createCase(t, store, "Other", workspace.StatusOpen, "2222222222", nil)
	ranked, err := r.Rank(context.Background(), Inbound{Subject: "hello", Body: "see ticket [2222222222] thanks"})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, target.ID, ranked[0].Case.ID)
}

func TestHeaderTicketWinsOverSubject(t *testing.T) {
	r, store := newResolver(t)
	target := createCase(t, store, "Other", workspace.StatusOpen, "3333333333", nil)
	createCase(t, store, "Printer jam", workspace.StatusOpen, "1111111111", nil)
	in := Inbound{Subject: "Re: Printer jam [1111111111]", Ticket: "3333333333"}
	assert.Equal(t, "3333333333", in.TicketID())
	ranked, err := r.Rank(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, target.ID, ranked[0].Case.ID)
}

func TestRankByTitleRequiresReferenceOverlap(t *testing.T) {
	r, store := newResolver(t)
	older := createCase(t, store, "Printer jam", workspace.StatusOpen, "1000000001", nil)
	unrelated := createCase(t, store, "Printer jam", workspace.StatusOpen, "1000000002", nil)
	linkEmail(t, store, older.ID, "first@mail.example")
	linkEmail(t, store, unrelated.ID, "other@mail.example")

	in := Inbound{
		Subject: "RE: Printer jam",
		Headers: threading.Headers{MessageID: "<second@mail.example>", References: "<first@mail.example>"},
	}
	ranked, err := r.Rank(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, older.ID, ranked[0].Case.ID)
	assert.Equal(t, ReasonTitleReferences, ranked[0].Reason)

	fresh := Inbound{Subject: "Printer jam", Headers: threading.Headers{MessageID: "<new@mail.example>"}}
	ranked, err = r.Rank(context.Background(), fresh)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRankTieBreakPrefersRecentlyUpdated(t *testing.T) {
	r, store := newResolver(t)
	a := createCase(t, store, "Invoice", workspace.StatusOpen, "3000000001", nil)
	b := createCase(t, store, "Invoice", workspace.StatusOpen, "3000000002", nil)
	linkEmail(t, store, a.ID, "root@x")
	linkEmail(t, store, b.ID, "root@x")
	store.Touch(a.ID)

	ranked, err := r.Rank(context.Background(), Inbound{Subject: "Invoice", Headers: threading.Headers{References: "<root@x>"}})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, a.ID, ranked[0].Case.ID)
	assert.Equal(t, b.ID, ranked[1].Case.ID)
}

func TestRankWithoutIDsFallsBackToTitle(t *testing.T) {
	r, store := newResolver(t)
	c := createCase(t, store, "No ids", workspace.StatusOpen, "4000000001", nil)
	ranked, err := r.Rank(context.Background(), Inbound{Subject: "Fwd: No ids"})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, c.ID, ranked[0].Case.ID)
	assert.Equal(t, ReasonTitle, ranked[0].Reason)
}

func TestResolveCreatesPerRoute(t *testing.T) {
	cases := []struct {
		route      Route
		wantStatus string
		wantType   string
	}{
		{RouteTechnical, workspace.StatusOpen, workspace.TypeTechnical},
		{RouteSupport, workspace.StatusOpen, workspace.TypeSupport},
		{RouteTracking, workspace.StatusResolved, workspace.TypeTracking},
	}
	for _, tc := range cases {
		t.Run(string(tc.route), func(t *testing.T) {
			r, _ := newResolver(t)
			out, err := r.Resolve(context.Background(), Inbound{
				Subject:  "Re: New problem",
				From:     []string{"customer@client.io"},
				Route:    tc.route,
				Partners: []string{"partner-1"},
			})
			require.NoError(t, err)
			require.True(t, out.Created)
			props := out.Case.Properties
			assert.Equal(t, "New problem", props.Text(schema.Cases.Title))
			assert.Equal(t, tc.wantStatus, props.Text(schema.Cases.Status))
			assert.Equal(t, []string{tc.wantType}, props.Items(schema.Cases.Type))
			assert.Equal(t, []string{"partner-1"}, props.Items(schema.Cases.Partner))
			assert.Equal(t, "1700000000", out.TicketID)
		})
	}
}

func TestResolveWithoutRouteFails(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), Inbound{Subject: "x"})
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestResolveKeepsExtractedTicketID(t *testing.T) {
	r, _ := newResolver(t)
	out, err := r.Resolve(context.Background(), Inbound{Subject: "Hello [9876543210]", Route: RouteSupport})
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, "9876543210", out.TicketID)
}

func TestGeneratedTicketIDSkipsUsed(t *testing.T) {
	r, store := newResolver(t)
	createCase(t, store, "taken", workspace.StatusOpen, "1700000000", nil)
	createCase(t, store, "taken too", workspace.StatusOpen, "1700000001", nil)
	out, err := r.Resolve(context.Background(), Inbound{Subject: "fresh", Route: RouteSupport})
	require.NoError(t, err)
	assert.Equal(t, "1700000002", out.TicketID)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		from    string
		want    string
		patched bool
	}{
		{"external reopens resolved", workspace.StatusResolved, "c@client.io", workspace.StatusNewReply, true},
		{"external on unset status", "", "c@client.io", workspace.StatusNewReply, true},
		{"open stays open", workspace.StatusOpen, "c@client.io", workspace.StatusOpen, false},
		{"new reply stays", workspace.StatusNewReply, "c@client.io", workspace.StatusNewReply, false},
		{"internal leaves resolved", workspace.StatusResolved, "agent@example.com", workspace.StatusResolved, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, store := newResolver(t)
			c := createCase(t, store, "Case", tc.status, "5000000001", nil)
			out, err := r.Resolve(context.Background(), Inbound{
				Subject: "Re: Case [5000000001]",
				From:    []string{tc.from},
				Route:   RouteSupport,
			})
			require.NoError(t, err)
			assert.False(t, out.Created)
			assert.Equal(t, c.ID, out.Case.ID)
			assert.Equal(t, tc.patched, out.Patched)
			got, err := store.GetPage(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Properties.Text(schema.Cases.Status))
		})
	}
}

func TestTrackingPolicy(t *testing.T) {
	in := Inbound{Subject: "[6000000001]", From: []string{"c@client.io"}, Route: RouteTracking}

	r, store := newResolver(t)
	c := createCase(t, store, "Case", workspace.StatusOpen, "6000000001", nil)
	out, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Patched)
	assert.Equal(t, workspace.StatusOpen, out.Case.Properties.Text(schema.Cases.Status))

	r, store = newResolver(t, WithTrackingPolicy(TrackingResolve))
	c = createCase(t, store, "Case", workspace.StatusOpen, "6000000001", nil)
	out, err = r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Patched)
	got, err := store.GetPage(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusResolved, got.Properties.Text(schema.Cases.Status))
}

func TestPartnerBackfillOnlyOnce(t *testing.T) {
	r, store := newResolver(t)
	c := createCase(t, store, "Case", workspace.StatusOpen, "7000000001", nil)
	in := Inbound{Subject: "[7000000001]", From: []string{"agent@example.com"}, Partners: []string{"p-1"}}

	out, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Patched)
	assert.Equal(t, []string{"p-1"}, out.Case.Properties.Items(schema.Cases.Partner))

	in.Partners = []string{"p-2"}
	out, err = r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Patched)
	got, err := store.GetPage(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1"}, got.Properties.Items(schema.Cases.Partner))
}

func TestRankPropagatesStoreFailure(t *testing.T) {
	r := New(failingStore{workspace.NewMemoryStore()}, schema, WithLogger(nil))
	_, err := r.Resolve(context.Background(), Inbound{Subject: "x [1234567890]", Route: RouteSupport})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestNextStatus(t *testing.T) {
	s, changed := NextStatus(workspace.StatusResolved, false)
	assert.Equal(t, workspace.StatusResolved, s)
	assert.False(t, changed)
	s, changed = NextStatus("Waiting", true)
	assert.Equal(t, workspace.StatusNewReply, s)
	assert.True(t, changed)
}
