package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore keeps cursors in the sync_cursors table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps a migrated connection.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM sync_cursors WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor: get %s: %w", name, err)
	}
	return value, true, nil
}

// Set updates the row, inserting it on first use. updated_at always changes so
// drivers that report changed rows still see the update.
func (s *SQLStore) Set(ctx context.Context, name, value string) error {
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sync_cursors SET value = ?, updated_at = ? WHERE name = ?`), value, now, name)
	if err != nil {
		return fmt.Errorf("cursor: update %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO sync_cursors (name, value, updated_at) VALUES (?, ?, ?)`), name, value, now)
	if err != nil {
		return fmt.Errorf("cursor: insert %s: %w", name, err)
	}
	return nil
}
