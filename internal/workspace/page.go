package workspace

import "time"

// Page is one record in a workspace database.
type Page struct {
	ID         string     `json:"id"`
	Database   string     `json:"database"`
	Properties Properties `json:"properties"`
	CreatedBy  Person     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PageOption customises page creation.
type PageOption func(*Page)

// WithCreator records the author of a page.
func WithCreator(p Person) PageOption {
	return func(page *Page) { page.CreatedBy = p }
}
