// Package cursor persists the sync loops' progress markers: the highest inbound
// mailbox UID handled and the outbound last-edited watermark.
package cursor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Cursor names used by the loops.
const (
	InboundUID        = "inbound_uid"
	OutboundWatermark = "outbound_watermark"
)

// Store reads and writes named cursor values.
type Store interface {
	// Get returns the value and whether it was set.
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, value string) error
}

// Scoped namespaces a cursor name, e.g. by mailbox folder.
func Scoped(name, scope string) string {
	if scope == "" {
		return name
	}
	return name + ":" + scope
}

// GetUID loads a UID cursor, zero when unset.
func GetUID(ctx context.Context, s Store, name string) (uint32, error) {
	raw, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("cursor %s: invalid uid %q: %w", name, raw, err)
	}
	return uint32(v), nil
}

// SetUID stores a UID cursor.
func SetUID(ctx context.Context, s Store, name string, uid uint32) error {
	return s.Set(ctx, name, strconv.FormatUint(uint64(uid), 10))
}

// GetTime loads a time cursor, the zero time when unset.
func GetTime(ctx context.Context, s Store, name string) (time.Time, error) {
	raw, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("cursor %s: invalid time %q: %w", name, raw, err)
	}
	return t, nil
}

// SetTime stores a time cursor in UTC.
func SetTime(ctx context.Context, s Store, name string, t time.Time) error {
	return s.Set(ctx, name, t.UTC().Format(time.RFC3339Nano))
}

// MemoryStore keeps cursors for the life of the process.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}
