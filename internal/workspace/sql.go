package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/casesync/internal/blocks"
)

// SQLStore persists pages in the workspace_pages and workspace_blocks tables.
// Database and update-time predicates run in SQL; property filters run in Go.
type SQLStore struct {
	db   *sqlx.DB
	now  func() time.Time
	mu   sync.Mutex
	last time.Time
}

// NewSQLStore wraps an open connection whose schema has been migrated.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

type pageRow struct {
	ID         string `db:"id"`
	Database   string `db:"database_name"`
	Properties string `db:"properties"`
	CreatedBy  string `db:"created_by"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

const pageColumns = `id, database_name, properties, created_by, created_at, updated_at`

func (s *SQLStore) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (r pageRow) page() (Page, error) {
	p := Page{
		ID:        r.ID,
		Database:  r.Database,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Properties), &p.Properties); err != nil {
		return Page{}, fmt.Errorf("workspace: decode properties of %s: %w", r.ID, err)
	}
	if p.Properties == nil {
		p.Properties = Properties{}
	}
	if r.CreatedBy != "" {
		if err := json.Unmarshal([]byte(r.CreatedBy), &p.CreatedBy); err != nil {
			return Page{}, fmt.Errorf("workspace: decode creator of %s: %w", r.ID, err)
		}
	}
	return p, nil
}

// Query implements Store.
func (s *SQLStore) Query(ctx context.Context, database string, q Query) ([]Page, error) {
	query := `SELECT ` + pageColumns + ` FROM workspace_pages WHERE database_name = ?`
	args := []any{database}
	if !q.UpdatedSince.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, q.UpdatedSince.UnixNano())
	}
	if q.Sort == SortAscending {
		query += ` ORDER BY updated_at ASC`
	} else {
		query += ` ORDER BY updated_at DESC`
	}

	var rows []pageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("workspace: query %s: %w", database, err)
	}
	pages := make([]Page, 0, len(rows))
	for _, r := range rows {
		p, err := r.page()
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return q.Apply(pages), nil
}

// GetPage implements Store.
func (s *SQLStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	return s.getPage(ctx, s.db, pageID)
}

func (s *SQLStore) getPage(ctx context.Context, q sqlx.QueryerContext, pageID string) (Page, error) {
	var row pageRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(`SELECT `+pageColumns+` FROM workspace_pages WHERE id = ?`), pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	if err != nil {
		return Page{}, fmt.Errorf("workspace: get page %s: %w", pageID, err)
	}
	return row.page()
}

// CreatePage implements Store. The page row and its blocks commit together.
func (s *SQLStore) CreatePage(ctx context.Context, database string, props Properties, content []blocks.Block, opts ...PageOption) (Page, error) {
	now := s.stamp()
	p := Page{
		ID:         uuid.NewString(),
		Database:   database,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: encode properties: %w", err)
	}
	creatorJSON, err := json.Marshal(p.CreatedBy)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: encode creator: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO workspace_pages (`+pageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		p.ID, p.Database, string(propsJSON), string(creatorJSON), p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	if err != nil {
		return Page{}, fmt.Errorf("workspace: insert page: %w", err)
	}
	if err := insertBlocks(ctx, tx, p.ID, 0, content); err != nil {
		return Page{}, err
	}
	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("workspace: commit page: %w", err)
	}
	return p, nil
}

// PatchProperties implements Store.
func (s *SQLStore) PatchProperties(ctx context.Context, pageID string, props Properties) (Page, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: begin: %w", err)
	}
	defer tx.Rollback()

	p, err := s.getPage(ctx, tx, pageID)
	if err != nil {
		return Page{}, err
	}
	for name, value := range props.Clone() {
		p.Properties[name] = value
	}
	p.UpdatedAt = s.stamp()
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: encode properties: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE workspace_pages SET properties = ?, updated_at = ? WHERE id = ?`),
		string(propsJSON), p.UpdatedAt.UnixNano(), pageID)
	if err != nil {
		return Page{}, fmt.Errorf("workspace: update page %s: %w", pageID, err)
	}
	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("workspace: commit patch: %w", err)
	}
	return p, nil
}

// FetchBlocks implements Store.
func (s *SQLStore) FetchBlocks(ctx context.Context, pageID string) ([]blocks.Block, error) {
	if _, err := s.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	var contents []string
	err := s.db.SelectContext(ctx, &contents,
		s.db.Rebind(`SELECT content FROM workspace_blocks WHERE page_id = ? ORDER BY position ASC`), pageID)
	if err != nil {
		return nil, fmt.Errorf("workspace: fetch blocks of %s: %w", pageID, err)
	}
	out := make([]blocks.Block, 0, len(contents))
	for _, c := range contents {
		var b blocks.Block
		if err := json.Unmarshal([]byte(c), &b); err != nil {
			return nil, fmt.Errorf("workspace: decode block of %s: %w", pageID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// AppendBlocks implements Store.
func (s *SQLStore) AppendBlocks(ctx context.Context, pageID string, content []blocks.Block) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("workspace: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.getPage(ctx, tx, pageID); err != nil {
		return err
	}
	var next int
	err = tx.GetContext(ctx, &next, tx.Rebind(`SELECT COALESCE(MAX(position), -1) + 1 FROM workspace_blocks WHERE page_id = ?`), pageID)
	if err != nil {
		return fmt.Errorf("workspace: next block position: %w", err)
	}
	if err := insertBlocks(ctx, tx, pageID, next, content); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE workspace_pages SET updated_at = ? WHERE id = ?`), s.stamp().UnixNano(), pageID)
	if err != nil {
		return fmt.Errorf("workspace: touch page %s: %w", pageID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("workspace: commit blocks: %w", err)
	}
	return nil
}

func insertBlocks(ctx context.Context, tx *sqlx.Tx, pageID string, start int, content []blocks.Block) error {
	stmt := tx.Rebind(`INSERT INTO workspace_blocks (page_id, position, content) VALUES (?, ?, ?)`)
	for i, b := range content {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("workspace: encode block: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, pageID, start+i, string(raw)); err != nil {
			return fmt.Errorf("workspace: insert block %d: %w", start+i, err)
		}
	}
	return nil
}
