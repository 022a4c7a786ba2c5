package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/models"
)

// ErrTooManyPages is returned by LoadAll when the page cap is reached.
var ErrTooManyPages = errors.New("pagination limit reached")

// PageFetcher fetches the page after cursor (nil for the first page).
type PageFetcher[T any] func(ctx context.Context, cursor *string) (models.Page[T], error)

// PagedList is an observable, cursor-paginated list.
// At most one page request is outstanding at a time; a second LoadMore while
// one is in flight returns false without I/O. Reset discards the in-flight
// request by cancelling it and bumping the generation so a late response is
// dropped. Thread-safe for concurrent access.
type PagedList[T any] struct {
	// source identifies this list ("groups" or "files")
	source string

	eventBus *events.EventBus
	logger   *logging.Logger

	scope      string
	fetch      PageFetcher[T]
	items      []T
	cursor     *string
	loaded     bool // at least one page applied for this scope
	loading    bool
	lastError  error
	generation uint64
	cancel     context.CancelFunc

	mu sync.RWMutex
}

// NewPagedList creates an empty list. fetch may be nil until Reset.
func NewPagedList[T any](source string, fetch PageFetcher[T], eventBus *events.EventBus, logger *logging.Logger) *PagedList[T] {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PagedList[T]{
		source:   source,
		fetch:    fetch,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Items returns a copy of the loaded items.
func (l *PagedList[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]T, len(l.items))
	copy(result, l.items)
	return result
}

// Slice returns a copy of items[start:end], clamped to the loaded range.
// Renderers use it to read only the visible window.
func (l *PagedList[T]) Slice(start, end int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if start < 0 {
		start = 0
	}
	if end > len(l.items) {
		end = len(l.items)
	}
	if start >= end {
		return nil
	}
	result := make([]T, end-start)
	copy(result, l.items[start:end])
	return result
}

// At returns the item at index i.
func (l *PagedList[T]) At(i int) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, false
	}
	return l.items[i], true
}

// Len returns the number of loaded items.
func (l *PagedList[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Scope returns the scope set by the last Reset (the group key for file lists).
func (l *PagedList[T]) Scope() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scope
}

// Loading reports whether a page request is outstanding.
func (l *PagedList[T]) Loading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loading
}

// Loaded reports whether at least one page has been applied since the last Reset.
func (l *PagedList[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Err returns the error of the last failed load, cleared by a successful one.
func (l *PagedList[T]) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastError
}

// HasMore reports whether another page may exist: nothing loaded yet, or the
// server issued a cursor. A failed load leaves HasMore unchanged.
func (l *PagedList[T]) HasMore() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fetch != nil && (!l.loaded || l.cursor != nil)
}

// Exhausted reports a loaded scope whose last page had no cursor.
func (l *PagedList[T]) Exhausted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded && l.cursor == nil
}

// Reset clears items, cursor and error, cancels the in-flight request and
// switches the list to a new scope and fetcher.
func (l *PagedList[T]) Reset(scope string, fetch PageFetcher[T]) {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.generation++
	l.scope = scope
	l.fetch = fetch
	l.items = nil
	l.cursor = nil
	l.loaded = false
	l.loading = false
	l.lastError = nil
	l.mu.Unlock()

	l.publish(NewListChangedEvent(l.source, scope, 0, 0, fetch != nil, true))
}

// LoadMore fetches and appends the next page. It returns true when a page was
// applied. It returns false without I/O when a request is already outstanding
// or the scope is exhausted, and false after a failed or discarded request.
func (l *PagedList[T]) LoadMore(ctx context.Context) bool {
	return l.load(ctx, nil)
}

// load runs one page request. accept, when set, is consulted before the
// request is claimed and again before the response is applied; a false
// answer skips or discards it.
func (l *PagedList[T]) load(ctx context.Context, accept func() bool) bool {
	l.mu.Lock()
	if accept != nil && !accept() {
		// A superseded caller must not hold the loading flag for the new scope
		scope := l.scope
		l.mu.Unlock()
		l.logger.Debug().Str("source", l.source).Str("scope", scope).Msg("skipping superseded load")
		return false
	}
	if l.loading || l.fetch == nil || (l.loaded && l.cursor == nil) {
		l.mu.Unlock()
		return false
	}
	l.loading = true
	gen := l.generation
	scope := l.scope
	fetch := l.fetch
	var cursor *string
	if l.cursor != nil {
		c := *l.cursor
		cursor = &c
	}
	reqCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	l.publish(NewListLoadingEvent(l.source, scope, true))

	page, err := fetch(reqCtx, cursor)
	cancel()

	l.mu.Lock()
	if gen != l.generation {
		// Reset since the request started; the newer scope owns the state
		l.mu.Unlock()
		l.logger.Debug().Str("source", l.source).Str("scope", scope).Msg("discarding stale page")
		return false
	}
	l.loading = false
	l.cancel = nil
	if accept != nil && !accept() {
		l.mu.Unlock()
		l.logger.Debug().Str("source", l.source).Str("scope", scope).Msg("discarding superseded page")
		l.publish(NewListLoadingEvent(l.source, scope, false))
		return false
	}
	if err != nil {
		l.lastError = err
		l.mu.Unlock()

		if errors.Is(err, context.Canceled) {
			l.logger.Debug().Str("source", l.source).Str("scope", scope).Msg("page request cancelled")
		} else {
			l.logger.Error().Err(err).Str("source", l.source).Str("scope", scope).Msg("failed to load page")
		}
		l.publish(NewListLoadingEvent(l.source, scope, false))
		l.publish(NewListErrorEvent(l.source, scope, err))
		return false
	}

	l.items = append(l.items, page.Items...)
	if page.HasMore() {
		next := *page.NextCursor
		l.cursor = &next
	} else {
		l.cursor = nil
	}
	l.loaded = true
	l.lastError = nil
	count := len(l.items)
	hasMore := l.cursor != nil
	l.mu.Unlock()

	l.publish(NewListLoadingEvent(l.source, scope, false))
	l.publish(NewListChangedEvent(l.source, scope, count, len(page.Items), hasMore, false))
	return true
}

// LoadAll pages until the scope is exhausted, a load fails, or the page cap
// (constants.MaxPaginationPages) is hit. maxItems > 0 stops early once that
// many items are loaded.
func (l *PagedList[T]) LoadAll(ctx context.Context, maxItems int) error {
	for pages := 0; ; pages++ {
		if l.Exhausted() {
			return nil
		}
		if maxItems > 0 && l.Len() >= maxItems {
			return nil
		}
		if pages >= constants.MaxPaginationPages {
			return fmt.Errorf("%w after %d pages", ErrTooManyPages, pages)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.LoadMore(ctx) {
			if err := l.Err(); err != nil {
				return err
			}
			if !l.Exhausted() {
				return fmt.Errorf("load of %s page did not complete", l.source)
			}
		}
	}
}

func (l *PagedList[T]) publish(e events.Event) {
	if l.eventBus != nil {
		l.eventBus.Publish(e)
	}
}
