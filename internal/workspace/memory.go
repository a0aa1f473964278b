package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/casesync/internal/blocks"
)

// MemoryStore is an in-memory Store, used by tests and the memory store driver.
type MemoryStore struct {
	mu      sync.RWMutex
	pages   map[string]*Page
	content map[string][]blocks.Block
	order   []string
	now     func() time.Time
	last    time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:   make(map[string]*Page),
		content: make(map[string][]blocks.Block),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for page timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// stamp returns a strictly increasing timestamp so update order is total.
func (s *MemoryStore) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, database string, q Query) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Page
	for _, id := range s.order {
		p := s.pages[id]
		if p.Database == database {
			candidates = append(candidates, clonePage(*p))
		}
	}
	return q.Apply(candidates), nil
}

// GetPage implements Store.
func (s *MemoryStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[pageID]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	return clonePage(*p), nil
}

// CreatePage implements Store.
func (s *MemoryStore) CreatePage(ctx context.Context, database string, props Properties, content []blocks.Block, opts ...PageOption) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	copied, err := copyBlocks(content)
	if err != nil {
		return Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stamp()
	p := &Page{
		ID:         uuid.NewString(),
		Database:   database,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	s.pages[p.ID] = p
	s.order = append(s.order, p.ID)
	s.content[p.ID] = copied
	return clonePage(*p), nil
}

// PatchProperties implements Store.
func (s *MemoryStore) PatchProperties(ctx context.Context, pageID string, props Properties) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	for name, value := range props.Clone() {
		p.Properties[name] = value
	}
	p.UpdatedAt = s.stamp()
	return clonePage(*p), nil
}

// FetchBlocks implements Store.
func (s *MemoryStore) FetchBlocks(ctx context.Context, pageID string) ([]blocks.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pages[pageID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	return copyBlocks(s.content[pageID])
}

// AppendBlocks implements Store.
func (s *MemoryStore) AppendBlocks(ctx context.Context, pageID string, content []blocks.Block) error {
	copied, err := copyBlocks(content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	s.content[pageID] = append(s.content[pageID], copied...)
	p.UpdatedAt = s.stamp()
	return nil
}

// Touch bumps a page's update time, as an edit in the workspace UI would.
func (s *MemoryStore) Touch(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[pageID]; ok {
		p.UpdatedAt = s.stamp()
	}
}

func clonePage(p Page) Page {
	p.Properties = p.Properties.Clone()
	return p
}

// copyBlocks deep-copies blocks through their JSON form, the same form SQLStore persists.
func copyBlocks(bs []blocks.Block) ([]blocks.Block, error) {
	if len(bs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(bs)
	if err != nil {
		return nil, fmt.Errorf("workspace: encode blocks: %w", err)
	}
	var out []blocks.Block
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("workspace: decode blocks: %w", err)
	}
	return out, nil
}
