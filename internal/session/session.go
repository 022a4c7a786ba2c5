// Package session owns every piece of browsing state for one connection to
// the catalog: the group and file lists, the selection, and the thumbnail
// pipeline. Nothing here is package level, so sessions can coexist.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dedupfs/dupview/internal/api"
	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/state"
	"github.com/dedupfs/dupview/internal/thumbs"
	"github.com/dedupfs/dupview/internal/viewport"
)

// Backend is everything a session needs from the catalog API.
// *api.Client implements it.
type Backend interface {
	ListGroups(ctx context.Context, cursor *string, limit int) (*models.GroupPage, error)
	ListGroupFiles(ctx context.Context, groupKey string, cursor *string, limit int) (*models.FilePage, error)
	thumbs.Backend
}

// Options customize New. Zero values take defaults.
type Options struct {
	EventBus *events.EventBus
	Logger   *logging.Logger
	Clock    thumbs.Clock
	// Store persists ready thumbnails; when nil and the config names a cache
	// path, New opens a SQLiteStore there.
	Store thumbs.Store
	// Budget overrides constants.ThumbnailConcurrency (tests only).
	Budget int
}

// Session wires the components together for one browsing session.
type Session struct {
	cfg      *config.Config
	backend  Backend
	eventBus *events.EventBus
	ownsBus  bool
	logger   *logging.Logger

	groups    *state.PagedList[models.Group]
	selection *state.Selection
	cache     *thumbs.Cache
	engine    *thumbs.Engine
	scheduler *thumbs.Scheduler
	trigger   *viewport.VisibilityTrigger
	virt      viewport.Virtualizer
	store     thumbs.Store
	ownsStore bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session over backend. Call Close when done.
func New(cfg *config.Config, backend Backend, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session: config is required")
	}
	if backend == nil {
		return nil, errors.New("session: backend is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	bus := opts.EventBus
	ownsBus := false
	if bus == nil {
		bus = events.NewEventBus(constants.EventBusDefaultBuffer)
		ownsBus = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		backend:  backend,
		eventBus: bus,
		ownsBus:  ownsBus,
		logger:   logger,
		virt:     viewport.NewVirtualizer(),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.groups = state.NewPagedList[models.Group](state.SourceGroups, s.fetchGroups, bus, logger.Named("groups"))
	files := state.NewPagedList[models.FileEntry](state.SourceFiles, nil, bus, logger.Named("files"))
	s.selection = state.NewSelection(files, s.fileFetcher, bus, logger.Named("selection"))

	s.cache = thumbs.NewCache(bus, logger.Named("thumbs"))
	if err := s.attachStore(opts.Store); err != nil {
		// A broken cache file must not block browsing.
		logger.Warn().Err(err).Str("path", cfg.CachePath).Msg("thumbnail cache unavailable")
	}

	engineCfg := thumbs.DefaultEngineConfig()
	engineCfg.MaxDimension = cfg.ThumbnailMaxDimension
	engineCfg.Format = cfg.ThumbnailFormat
	s.engine = thumbs.NewEngine(backend, s.cache, opts.Clock, engineCfg, logger.Named("engine"))
	s.scheduler = thumbs.NewScheduler(s.engine, s.cache, opts.Budget, bus, logger.Named("scheduler"))
	s.trigger = viewport.NewVisibilityTrigger(func(fileID int64) {
		if cfg.Thumbnails {
			s.scheduler.Enqueue(fileID)
		}
	})
	return s, nil
}

// NewFromConfig builds the API client from cfg and a session over it.
func NewFromConfig(cfg *config.Config, opts Options) (*Session, *api.Client, error) {
	client, err := api.NewClient(cfg, opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := New(cfg, client, opts)
	if err != nil {
		return nil, nil, err
	}
	return s, client, nil
}

func (s *Session) attachStore(store thumbs.Store) error {
	if store == nil {
		if s.cfg.CachePath == "" {
			return nil
		}
		ns := thumbs.Namespace(s.cfg.APIBaseURL, s.cfg.ThumbnailMaxDimension, s.cfg.ThumbnailFormat)
		opened, err := thumbs.OpenSQLiteStore(s.cfg.CachePath, ns)
		if err != nil {
			return err
		}
		store = opened
		s.ownsStore = true
	}

	n, err := s.cache.AttachStore(s.ctx, store)
	if err != nil {
		if s.ownsStore {
			store.Close()
			s.ownsStore = false
		}
		return fmt.Errorf("load thumbnail cache: %w", err)
	}
	s.store = store
	s.logger.Debug().Int("entries", n).Msg("thumbnail cache loaded")
	return nil
}

func (s *Session) fetchGroups(ctx context.Context, cursor *string) (models.GroupPage, error) {
	page, err := s.backend.ListGroups(ctx, cursor, s.cfg.GroupPageSize)
	if err != nil {
		return models.GroupPage{}, err
	}
	return *page, nil
}

func (s *Session) fileFetcher(groupKey string) state.PageFetcher[models.FileEntry] {
	return func(ctx context.Context, cursor *string) (models.FilePage, error) {
		page, err := s.backend.ListGroupFiles(ctx, groupKey, cursor, s.cfg.FilePageSize)
		if err != nil {
			return models.FilePage{}, err
		}
		return *page, nil
	}
}

// Context is cancelled by Close.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Config() *config.Config                    { return s.cfg }
func (s *Session) EventBus() *events.EventBus                { return s.eventBus }
func (s *Session) Groups() *state.PagedList[models.Group]    { return s.groups }
func (s *Session) Files() *state.PagedList[models.FileEntry] { return s.selection.Files() }
func (s *Session) Selection() *state.Selection               { return s.selection }
func (s *Session) Cache() *thumbs.Cache                      { return s.cache }
func (s *Session) Scheduler() *thumbs.Scheduler              { return s.scheduler }
func (s *Session) Trigger() *viewport.VisibilityTrigger      { return s.trigger }
func (s *Session) Virtualizer() viewport.Virtualizer         { return s.virt }

// LoadMoreGroups fetches the next group page. It returns false when a load is
// already running or nothing is left.
func (s *Session) LoadMoreGroups() bool {
	return s.groups.LoadMore(s.ctx)
}

// SelectGroup makes groupKey current and starts loading its files.
func (s *Session) SelectGroup(groupKey string) bool {
	return s.selection.Select(s.ctx, groupKey)
}

// LoadMoreFiles fetches the next file page of the current group.
func (s *Session) LoadMoreFiles() bool {
	return s.selection.LoadMoreFiles(s.ctx)
}

// ReloadGroups drops the loaded groups and fetches the first page again.
func (s *Session) ReloadGroups() bool {
	s.groups.Reset("", s.fetchGroups)
	return s.groups.LoadMore(s.ctx)
}

// ReloadFiles drops the current group's files and selects it again, which
// starts a fresh first-page load under a new token.
func (s *Session) ReloadFiles() bool {
	groupKey := s.selection.GroupKey()
	if groupKey == "" {
		return false
	}
	s.selection.Clear()
	return s.selection.Select(s.ctx, groupKey)
}

// GroupFiles returns a file list for groupKey that is independent of the
// selection, for commands that load several groups at once.
func (s *Session) GroupFiles(groupKey string) *state.PagedList[models.FileEntry] {
	l := state.NewPagedList[models.FileEntry](state.SourceFiles, nil, s.eventBus, s.logger.Named("files"))
	l.Reset(groupKey, s.fileFetcher(groupKey))
	return l
}

// RequestThumbnail enqueues fileID directly, bypassing the visibility trigger.
func (s *Session) RequestThumbnail(fileID int64) bool {
	return s.scheduler.Enqueue(fileID)
}

// RetryThumbnail re-enqueues a file whose thumbnail failed.
func (s *Session) RetryThumbnail(fileID int64) bool {
	return s.scheduler.Retry(fileID)
}

// ThumbnailsIdle blocks until the scheduler has nothing queued or running.
func (s *Session) ThumbnailsIdle(ctx context.Context) error {
	return s.scheduler.Wait(ctx)
}

// Close cancels every load and thumbnail run and releases the store.
func (s *Session) Close() error {
	s.cancel()
	s.selection.Wait()
	s.scheduler.Close()

	var err error
	if s.ownsStore && s.store != nil {
		err = s.store.Close()
	}
	if s.ownsBus {
		s.eventBus.Close()
	}
	return err
}
