package state

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/models"
)

// FileFetcherFunc builds the page fetcher for one group's files.
type FileFetcherFunc func(groupKey string) PageFetcher[models.FileEntry]

// Selection owns the selected group and the file list that follows it.
//
// Every selection change bumps a load token. A file page is applied only when
// the token it was issued under is still current and the selected group is
// still the one it was fetched for; anything else is discarded. The token and
// group live in atomics so the guard can run inside the list's critical
// section without lock ordering concerns.
type Selection struct {
	files      *PagedList[models.FileEntry]
	fetchFiles FileFetcherFunc
	eventBus   *events.EventBus
	logger     *logging.Logger

	token    atomic.Uint64
	groupKey atomic.Pointer[string]

	mu    sync.Mutex // serializes Select and Clear
	wg    sync.WaitGroup
	spawn func(func())
}

// NewSelection creates a selection controller over files.
func NewSelection(files *PagedList[models.FileEntry], fetchFiles FileFetcherFunc, eventBus *events.EventBus, logger *logging.Logger) *Selection {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Selection{
		files:      files,
		fetchFiles: fetchFiles,
		eventBus:   eventBus,
		logger:     logger,
		spawn:      func(fn func()) { go fn() },
	}
	empty := ""
	s.groupKey.Store(&empty)
	return s
}

// GroupKey returns the selected group, or "".
func (s *Selection) GroupKey() string {
	return *s.groupKey.Load()
}

// Token returns the current load token.
func (s *Selection) Token() uint64 {
	return s.token.Load()
}

// Files returns the file list driven by this selection.
func (s *Selection) Files() *PagedList[models.FileEntry] {
	return s.files
}

// Select makes groupKey the current selection and starts loading its first
// file page in the background. Selecting the current group again is a no-op
// unless its last load failed; the return value reports whether a new load
// was started.
func (s *Selection) Select(ctx context.Context, groupKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if groupKey == s.GroupKey() && s.files.Scope() == groupKey && s.files.Err() == nil &&
		(s.files.Loading() || s.files.Loaded()) {
		return false
	}

	token := s.token.Add(1)
	s.groupKey.Store(&groupKey)

	// Cancels the previous group's request and clears rows and cursor
	s.files.Reset(groupKey, s.fetchFiles(groupKey))

	if s.eventBus != nil {
		s.eventBus.Publish(NewSelectionChangedEvent(groupKey, token))
	}
	s.logger.Debug().Str("group", groupKey).Uint64("token", token).Msg("group selected")

	s.wg.Add(1)
	s.spawn(func() {
		defer s.wg.Done()
		s.files.load(ctx, s.guard(token, groupKey))
	})
	return true
}

// Clear drops the selection and empties the file list.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.token.Add(1)
	empty := ""
	s.groupKey.Store(&empty)
	s.files.Reset("", nil)

	if s.eventBus != nil {
		s.eventBus.Publish(NewSelectionChangedEvent("", token))
	}
}

// LoadMoreFiles loads the next file page for the current selection, tagged
// with the current token. It blocks until the page is applied or discarded.
func (s *Selection) LoadMoreFiles(ctx context.Context) bool {
	token := s.Token()
	groupKey := s.GroupKey()
	if groupKey == "" {
		return false
	}
	return s.files.load(ctx, s.guard(token, groupKey))
}

// Wait blocks until background first-page loads started by Select finish.
func (s *Selection) Wait() {
	s.wg.Wait()
}

func (s *Selection) guard(token uint64, groupKey string) func() bool {
	return func() bool {
		return s.token.Load() == token && s.GroupKey() == groupKey
	}
}
