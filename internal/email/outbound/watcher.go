package outbound

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gotrs-io/casesync/internal/cursor"
	"github.com/gotrs-io/casesync/internal/workspace"
)

type pageProcessor interface {
	Process(ctx context.Context, page workspace.Page) (Outcome, error)
}

// Watcher runs one outbound pass: reply pages flagged to send and not yet sent, edited at or
// after the stored watermark, oldest first. The watermark advances after each page handled
// and stops before a page that failed.
type Watcher struct {
	store     workspace.Store
	replies   workspace.ReplySchema
	processor pageProcessor
	cursors   cursor.Store
	halt      func() bool
	logger    *log.Logger

	// settled remembers pages that were rendered, skipped or rejected, by last edit. The
	// watermark is inclusive so an unchanged settled page comes back on the next pass.
	mu      sync.Mutex
	settled map[string]time.Time
}

// WatcherOption customizes Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger overrides the logger used for diagnostics.
func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatcherHalt ends the pass before the next page once halt reports true.
func WithWatcherHalt(halt func() bool) WatcherOption {
	return func(w *Watcher) { w.halt = halt }
}

func NewWatcher(store workspace.Store, replies workspace.ReplySchema, processor pageProcessor, cursors cursor.Store, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:     store,
		replies:   replies,
		processor: processor,
		cursors:   cursors,
		logger:    log.Default(),
		settled:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// PollOnce processes the pending reply pages and returns how many were handled.
func (w *Watcher) PollOnce(ctx context.Context) (int, error) {
	since, err := cursor.GetTime(ctx, w.cursors, cursor.OutboundWatermark)
	if err != nil {
		return 0, fmt.Errorf("outbound: read watermark: %w", err)
	}
	pages, err := w.store.Query(ctx, w.replies.Database, workspace.Query{
		Filters: []workspace.Filter{
			workspace.Checked(w.replies.Send, true),
			workspace.Checked(w.replies.Sent, false),
		},
		UpdatedSince: since,
		Sort:         workspace.SortAscending,
	})
	if err != nil {
		return 0, fmt.Errorf("outbound: query replies: %w", err)
	}

	w.forgetBefore(since)

	handled := 0
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		if w.halt != nil && w.halt() {
			w.logger.Printf("outbound: pass halted after %d page(s)", handled)
			return handled, nil
		}
		if !w.alreadySettled(page) {
			out, err := w.processor.Process(ctx, page)
			if err != nil {
				return handled, err
			}
			switch out.Result {
			case ResultRendered, ResultSkipped, ResultRejected:
				w.markSettled(page)
			}
			handled++
		}
		if page.UpdatedAt.After(since) {
			if err := cursor.SetTime(ctx, w.cursors, cursor.OutboundWatermark, page.UpdatedAt); err != nil {
				return handled, fmt.Errorf("outbound: advance watermark: %w", err)
			}
			since = page.UpdatedAt
		}
	}
	return handled, nil
}

func (w *Watcher) alreadySettled(page workspace.Page) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.settled[page.ID]
	return ok && last.Equal(page.UpdatedAt)
}

func (w *Watcher) markSettled(page workspace.Page) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settled[page.ID] = page.UpdatedAt
}

// forgetBefore drops entries the watermark has passed; an edit moves a page past them.
func (w *Watcher) forgetBefore(since time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, last := range w.settled {
		if last.Before(since) {
			delete(w.settled, id)
		}
	}
}
