package database

import (
	"context"
	"embed"
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates the casesync tables when missing. It is safe to run repeatedly.
// Returns the number of statements executed.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}
	dialect := dialectFor(db.DriverName())
	raw, err := migrations.ReadFile("migrations/" + dialect + ".sql")
	if err != nil {
		return 0, fmt.Errorf("database: no schema for %s: %w", dialect, err)
	}
	applied := 0
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return applied, fmt.Errorf("database: migrate %s: %w", dialect, err)
		}
		applied++
	}
	log.Printf("migrations: applied %d %s statements", applied, dialect)
	return applied, nil
}

func dialectFor(driver string) string {
	switch NormalizeDriver(driver) {
	case DriverPostgres:
		return "postgres"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
