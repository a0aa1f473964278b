package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/casesync/internal/blocks"
	"github.com/gotrs-io/casesync/internal/database"
)

func fixedClock(start time.Time) func() time.Time {
	return func() time.Time { return start }
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.Migrate(ctx, db)
	require.NoError(t, err)
	return NewSQLStore(db)
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	content := []blocks.Block{blocks.Paragraph("hello"), blocks.Divider()}

	first, err := s.CreatePage(ctx, "Emails", Properties{
		"Name":      Title("Login broken"),
		"Email UID": RichText("42"),
		"To":        MultiSelect("Support@Example.com"),
	}, content, WithCreator(Person{Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, "ada@example.com", first.CreatedBy.Email)

	second, err := s.CreatePage(ctx, "Emails", Properties{"Name": Title("Other"), "Email UID": RichText("43")}, nil)
	require.NoError(t, err)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	_, err = s.CreatePage(ctx, "Support Case", Properties{"Name": Title("Login broken")}, nil)
	require.NoError(t, err)

	got, err := s.Query(ctx, "Emails", Query{Filters: []Filter{Equals("Email UID", "42")}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)

	all, err := s.Query(ctx, "Emails", Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first by default")

	asc, err := s.Query(ctx, "Emails", Query{Sort: SortAscending, Limit: 1})
	require.NoError(t, err)
	require.Len(t, asc, 1)
	assert.Equal(t, first.ID, asc[0].ID)

	since, err := s.Query(ctx, "Emails", Query{UpdatedSince: second.UpdatedAt})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, second.ID, since[0].ID)

	stored, err := s.FetchBlocks(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	require.NoError(t, s.AppendBlocks(ctx, first.ID, []blocks.Block{blocks.Paragraph("more")}))
	stored, err = s.FetchBlocks(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "more", stored[2].PlainText())

	patched, err := s.PatchProperties(ctx, first.ID, Properties{"Support Case": Relation("case-1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"case-1"}, patched.Properties.Items("Support Case"))
	assert.Equal(t, "Login broken", patched.Properties.Text("Name"))
	assert.True(t, patched.UpdatedAt.After(second.UpdatedAt))

	reread, err := s.GetPage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"case-1"}, reread.Properties.Items("Support Case"))

	_, err = s.GetPage(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))
	_, err = s.PatchProperties(ctx, "missing", Properties{})
	require.True(t, errors.Is(err, ErrNotFound))
	_, err = s.FetchBlocks(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(s.AppendBlocks(ctx, "missing", nil), ErrNotFound))
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	storeContract(t, newSQLiteStore(t))
}

func TestMemoryStoreIsolatesCallerCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	props := Properties{"To": MultiSelect("a@example.com")}
	content := []blocks.Block{blocks.Paragraph("x")}
	p, err := s.CreatePage(ctx, "Emails", props, content)
	require.NoError(t, err)

	props["To"].Items[0] = "changed@example.com"
	content[0].Spans[0].Text = "changed"

	got, err := s.GetPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, got.Properties.Items("To"))
	stored, err := s.FetchBlocks(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", stored[0].PlainText())
}

func TestMemoryStoreStampsAreStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	a, err := s.CreatePage(ctx, "Replies", Properties{}, nil)
	require.NoError(t, err)
	b, err := s.CreatePage(ctx, "Replies", Properties{}, nil)
	require.NoError(t, err)
	require.True(t, b.UpdatedAt.After(a.UpdatedAt))

	s.Touch(a.ID)
	got, err := s.Query(ctx, "Replies", Query{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Query(ctx, "Emails", Query{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFilterMatch(t *testing.T) {
	props := Properties{
		"Name":    Title("Login Broken"),
		"Email":   Email("Ada@Example.com"),
		"To":      MultiSelect("support@example.com"),
		"People":  People(Person{Email: "Bob@Example.com"}),
		"Files":   Files(File{Name: "a.pdf", URL: "https://f/a.pdf"}),
		"Send":    Checkbox(true),
		"Partner": Relation(),
	}
	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"title equals exact", Equals("Name", "Login Broken"), true},
		{"title equals is case sensitive", Equals("Name", "login broken"), false},
		{"title contains ignores case", Contains("Name", "broken"), true},
		{"email equals ignores case", Equals("Email", "ada@example.com"), true},
		{"multi select element", Equals("To", "support@example.com"), true},
		{"multi select is not substring", Equals("To", "support"), false},
		{"people by email", Contains("People", "bob@example.com"), true},
		{"files by name", Equals("Files", "a.pdf"), true},
		{"checkbox true", Checked("Send", true), true},
		{"checkbox missing is false", Checked("Sent", false), true},
		{"empty relation", Filter{Property: "Partner", Op: OpIsEmpty}, true},
		{"missing property is empty", Filter{Property: "Nope", Op: OpIsEmpty}, true},
		{"missing property never equals", Equals("Nope", ""), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Match(props))
		})
	}
}

func TestQueryAnyOf(t *testing.T) {
	p := Page{Properties: Properties{"Email": Email("a@example.com")}}
	q := Query{AnyOf: []Filter{Equals("Email", "b@example.com"), Equals("Email", "A@example.com")}}
	assert.True(t, q.Match(p))
	q.AnyOf = q.AnyOf[:1]
	assert.False(t, q.Match(p))
}

func TestAddressesOf(t *testing.T) {
	cases := []struct {
		name string
		p    Property
		want []string
	}{
		{"people", People(Person{Email: "A@x.com"}, Person{Email: "a@x.com"}, Person{Name: "no mail"}), []string{"a@x.com"}},
		{"multi select", MultiSelect("b@x.com", "not-an-address", "B@X.com"), []string{"b@x.com"}},
		{"rich text list", RichText("Carol <carol@x.com>, dave@x.com"), []string{"carol@x.com", "dave@x.com"}},
		{"rich text loose", RichText("erin@x.com; frank@x.com"), []string{"erin@x.com", "frank@x.com"}},
		{"email", Email(" Gina@X.com "), []string{"gina@x.com"}},
		{"checkbox has none", Checkbox(true), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AddressesOf(tc.p))
		})
	}
}

func TestPropertyIsEmpty(t *testing.T) {
	assert.True(t, RichText("  ").IsEmpty())
	assert.True(t, Checkbox(false).IsEmpty())
	assert.True(t, Property{Kind: KindDate}.IsEmpty())
	assert.False(t, Date(time.Now()).IsEmpty())
	assert.False(t, Relation("x").IsEmpty())
}

func TestDefaultSchemaNames(t *testing.T) {
	s := DefaultSchema()
	assert.Equal(t, "Support Case", s.Cases.Database)
	assert.Equal(t, "Email UID", s.Emails.UID)
	assert.Equal(t, "Email sent", s.Replies.Sent)
	assert.Equal(t, "Send email", s.Replies.Send)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSQLStoreQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, database_name")).
		WithArgs("Emails").
		WillReturnError(errors.New("connection reset"))

	_, err := s.Query(context.Background(), "Emails", Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreQueryRejectsCorruptProperties(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "database_name", "properties", "created_by", "created_at", "updated_at"}).
		AddRow("p1", "Emails", "{not json", "{}", int64(1), int64(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM workspace_pages WHERE database_name = ?")).WillReturnRows(rows)

	_, err := s.Query(context.Background(), "Emails", Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode properties of p1")
}

func TestSQLStoreCreateRollsBackOnBlockFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workspace_pages")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workspace_blocks")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.CreatePage(context.Background(), "Emails", Properties{"Name": Title("x")}, []blocks.Block{blocks.Paragraph("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePatchMissingPage(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM workspace_pages WHERE id = ?")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.PatchProperties(context.Background(), "nope", Properties{})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
