package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDriver(t *testing.T) {
	cases := map[string]string{
		"sqlite":     DriverSQLite,
		" Modernc ":  DriverSQLite,
		"sqlite3":    DriverSQLite3,
		"postgresql": DriverPostgres,
		"pq":         DriverPostgres,
		"MariaDB":    DriverMySQL,
		"memory":     "memory",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDriver(in), in)
	}
	assert.True(t, IsSQLite("sqlite3"))
	assert.False(t, IsSQLite("postgres"))
}

func TestOpenRejectsBadInput(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorContains(t, err, "unsupported driver")

	_, err = Open(context.Background(), "postgres", " ")
	assert.ErrorContains(t, err, "requires a dsn")
}

func TestMigrateSQLiteIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "casesync.db"))
	require.NoError(t, err)
	defer db.Close()

	first, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 4, first)

	second, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"))
	assert.Equal(t, []string{"sync_cursors", "workspace_blocks", "workspace_pages"}, tables)
}

func TestMigrateNilDB(t *testing.T) {
	_, err := Migrate(context.Background(), nil)
	assert.Error(t, err)
}

func TestSplitStatementsDropsComments(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a (x);\n"
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, splitStatements(script))
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(errors.New("UNIQUE constraint failed: workspace_pages.id")))
	assert.True(t, IsConnectionError(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.True(t, IsConnectionError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")))
	assert.True(t, IsConnectionError(errors.New("database is locked (5) (SQLITE_BUSY)")))
}
