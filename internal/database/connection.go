// Package database opens the SQL backends used by the workspace and cursor stores and
// applies their schema.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3" // mattn/go-sqlite3, needs cgo
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// NormalizeDriver maps configuration aliases onto registered driver names.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "modernc":
		return DriverSQLite
	case "sqlite3", "mattn":
		return DriverSQLite3
	case "postgres", "postgresql", "pgsql", "pq":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

// IsSQLite reports whether driver is one of the sqlite drivers.
func IsSQLite(driver string) bool {
	d := NormalizeDriver(driver)
	return d == DriverSQLite || d == DriverSQLite3
}

// Open connects to dsn with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	name := NormalizeDriver(driver)
	switch name {
	case DriverSQLite, DriverSQLite3, DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database: %s requires a dsn", name)
	}
	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", name, err)
	}
	if IsSQLite(name) {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY between loops.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping %s: %w", name, err)
	}
	return db, nil
}
