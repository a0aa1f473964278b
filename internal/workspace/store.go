// Package workspace is the record store the sync engine reads and writes: databases of
// pages with typed properties and block content.
package workspace

import (
	"context"
	"errors"

	"github.com/gotrs-io/casesync/internal/blocks"
)

// ErrNotFound is returned for unknown page ids.
var ErrNotFound = errors.New("workspace: page not found")

// Store is the record store contract. Idempotency is achieved by querying before
// creating; stores enforce no uniqueness of their own.
type Store interface {
	Query(ctx context.Context, database string, q Query) ([]Page, error)
	GetPage(ctx context.Context, pageID string) (Page, error)
	// CreatePage stores the page and its content in one atomic operation.
	CreatePage(ctx context.Context, database string, props Properties, content []blocks.Block, opts ...PageOption) (Page, error)
	// PatchProperties merges props into the page.
	PatchProperties(ctx context.Context, pageID string, props Properties) (Page, error)
	FetchBlocks(ctx context.Context, pageID string) ([]blocks.Block, error)
	AppendBlocks(ctx context.Context, pageID string, content []blocks.Block) error
}
