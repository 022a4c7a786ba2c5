// Package thumbs acquires thumbnails on demand: a per-file status cache, a
// bounded FIFO scheduler, and the request/poll engine that drives one file
// from "requested" to "ready" or "error".
package thumbs

import (
	"context"
	"sync"
	"time"

	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
)

// Status is the client-side thumbnail state of one file.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRequesting Status = "requesting"
	StatusRendering  Status = "rendering"
	StatusRetrying   Status = "retrying" // waiting out a server-directed cooldown
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Settled reports a status that never changes on its own.
func (s Status) Settled() bool {
	return s == StatusReady || s == StatusError
}

// Entry is the cached thumbnail state of one file.
type Entry struct {
	Status     Status
	ContentURL string // set when ready; a server reference, resolve before fetching
	Message    string // short reason when error
	UpdatedAt  time.Time
}

// Cache is the authoritative per-file thumbnail state. Ready entries are
// permanent. Error entries stay until Clear (an explicit retry). Every change
// is published as an events.ThumbnailEvent so rendered rows can rebind.
type Cache struct {
	entries  map[int64]Entry
	eventBus *events.EventBus
	logger   *logging.Logger
	store    Store
	now      func() time.Time
	mu       sync.RWMutex
}

// NewCache creates an empty cache.
func NewCache(eventBus *events.EventBus, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		entries:  make(map[int64]Entry),
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// AttachStore loads the store's ready entries into the cache and persists
// future ready entries to it. It returns the number of entries loaded.
func (c *Cache) AttachStore(ctx context.Context, store Store) (int, error) {
	ready, err := store.LoadReady(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
	now := c.now()
	for fileID, url := range ready {
		if cur, ok := c.entries[fileID]; ok && cur.Status != StatusError {
			continue
		}
		c.entries[fileID] = Entry{Status: StatusReady, ContentURL: url, UpdatedAt: now}
	}
	return len(ready), nil
}

// Get returns the entry for fileID.
func (c *Cache) Get(fileID int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fileID]
	return e, ok
}

// Status returns the status of fileID, or "" when absent.
func (c *Cache) Status(fileID int64) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[fileID].Status
}

// Set records a new state for fileID and publishes it. A ready entry is
// never replaced; the call is ignored and returns false.
func (c *Cache) Set(fileID int64, status Status, contentURL, message string) bool {
	c.mu.Lock()
	if cur, ok := c.entries[fileID]; ok && cur.Status == StatusReady {
		c.mu.Unlock()
		return false
	}
	c.entries[fileID] = Entry{
		Status:     status,
		ContentURL: contentURL,
		Message:    message,
		UpdatedAt:  c.now(),
	}
	store := c.store
	c.mu.Unlock()

	if status == StatusReady && store != nil {
		if err := store.SaveReady(context.Background(), fileID, contentURL); err != nil {
			c.logger.Warn().Err(err).Int64("file_id", fileID).Msg("failed to persist ready thumbnail")
		}
	}
	if c.eventBus != nil {
		c.eventBus.PublishThumbnail(fileID, string(status), contentURL, message)
	}
	return true
}

// Clear removes the entry for fileID unless it is ready.
func (c *Cache) Clear(fileID int64) bool {
	c.mu.Lock()
	cur, ok := c.entries[fileID]
	if !ok || cur.Status == StatusReady {
		c.mu.Unlock()
		return false
	}
	delete(c.entries, fileID)
	c.mu.Unlock()

	if c.eventBus != nil {
		c.eventBus.PublishThumbnail(fileID, "", "", "")
	}
	return true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Counts returns the number of entries per status.
func (c *Cache) Counts() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[Status]int)
	for _, e := range c.entries {
		counts[e.Status]++
	}
	return counts
}
