package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/casesync/internal/workspace"
)

type countingStore struct {
	*workspace.MemoryStore
	queries  int
	failWith error
}

func (c *countingStore) Query(ctx context.Context, db string, q workspace.Query) ([]workspace.Page, error) {
	c.queries++
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.MemoryStore.Query(ctx, db, q)
}

func newDirectory(t *testing.T) (*Directory, *countingStore, workspace.ContactSchema) {
	t.Helper()
	schema := workspace.DefaultSchema().Contacts
	store := &countingStore{MemoryStore: workspace.NewMemoryStore()}
	return NewDirectory(store, schema, WithInternalDomains(NewDomains("example.com")), WithLogger(nil)), store, schema
}

func TestEnsureCreatesMissingAndReusesExisting(t *testing.T) {
	ctx := context.Background()
	d, store, schema := newDirectory(t)

	existing, err := store.CreatePage(ctx, schema.Database, workspace.Properties{
		schema.Title:   workspace.Title("Ada"),
		schema.Email:   workspace.Email("ada@customer.io"),
		schema.Partner: workspace.Relation("partner-1"),
	}, nil)
	require.NoError(t, err)

	res, err := d.Ensure(ctx, []Participant{
		{Name: "Ada Lovelace", Address: "ADA@customer.io"},
		{Address: "agent@example.com"},
		{Address: "john.smith@customer.io"},
		{Name: "Dup", Address: "ada@customer.io"},
		{Address: "not-an-address"},
	})
	require.NoError(t, err)
	require.Len(t, res.ContactIDs, 2)
	assert.Equal(t, existing.ID, res.ContactIDs[0])
	assert.Equal(t, []string{"partner-1"}, res.Partners)

	created, err := store.GetPage(ctx, res.ContactIDs[1])
	require.NoError(t, err)
	assert.Equal(t, "John Smith", created.Properties.Text(schema.Title))
	assert.Equal(t, "john.smith@customer.io", created.Properties.Text(schema.Email))

	again, err := d.Ensure(ctx, []Participant{{Address: "john.smith@customer.io"}})
	require.NoError(t, err)
	assert.Equal(t, res.ContactIDs[1:], again.ContactIDs)
}

func TestEnsureBatchesLookups(t *testing.T) {
	d, store, _ := newDirectory(t)
	var ps []Participant
	for i := 0; i < 60; i++ {
		ps = append(ps, Participant{Address: fmt.Sprintf("user%d@customer.io", i)})
	}
	res, err := d.Ensure(context.Background(), ps)
	require.NoError(t, err)
	assert.Len(t, res.ContactIDs, 60)
	assert.Equal(t, 3, store.queries)
}

func TestEnsureSkipsInternalOnly(t *testing.T) {
	d, store, _ := newDirectory(t)
	res, err := d.Ensure(context.Background(), []Participant{{Address: "support@Example.com"}})
	require.NoError(t, err)
	assert.Empty(t, res.ContactIDs)
	assert.Zero(t, store.queries)
}

func TestEnsurePropagatesLookupFailure(t *testing.T) {
	d, store, _ := newDirectory(t)
	store.failWith = errors.New("store offline")
	_, err := d.Ensure(context.Background(), []Participant{{Address: "a@customer.io"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Grace Hopper", DisplayName("  Grace Hopper ", "gh@navy.mil"))
	assert.Equal(t, "Jane Doe", DisplayName("", "jane.doe@x.com"))
	assert.Equal(t, "Ops", DisplayName("", "OPS@x.com"))
	long := DisplayName(strings.Repeat("é", 80), "x@y.z")
	assert.Equal(t, MaxNameRunes, len([]rune(long)))
}

func TestDomains(t *testing.T) {
	d := NewDomains("example.com", "ops@Corp.example.org", " ")
	assert.True(t, d.Internal("a@EXAMPLE.com"))
	assert.True(t, d.Internal("b@corp.example.org"))
	assert.False(t, d.Internal("c@customer.io"))
	assert.False(t, d.Internal("no-at-sign"))
}
