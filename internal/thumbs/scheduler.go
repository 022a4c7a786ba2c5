package thumbs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
)

// Runner executes one thumbnail item to completion. *Engine implements it.
type Runner interface {
	Run(ctx context.Context, fileID int64) Result
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Queued    int
	Running   int
	Peak      int // highest Running ever observed
	Completed int
	Failed    int
}

// Total returns the number of items the scheduler knows about right now.
func (s SchedulerStats) Total() int {
	return s.Queued + s.Running
}

// Scheduler is the session-wide admission queue for thumbnail work.
//
// Items start in FIFO order with at most budget running at once. An item is
// never queued twice, and an item whose cache entry is settled is not queued
// at all. Completions pull the next item. Runs use the scheduler's own
// context, not the caller's, so they outlive the view that enqueued them.
type Scheduler struct {
	runner   Runner
	cache    *Cache
	eventBus *events.EventBus
	logger   *logging.Logger
	budget   int

	queue   []int64
	pending map[int64]struct{} // queued or running
	running int
	peak    int
	done    int
	failed  int
	closed  bool
	idle    chan struct{} // closed while nothing is queued or running

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with the given concurrency budget.
// A budget <= 0 uses constants.ThumbnailConcurrency.
func NewScheduler(runner Runner, cache *Cache, budget int, eventBus *events.EventBus, logger *logging.Logger) *Scheduler {
	if budget <= 0 {
		budget = constants.ThumbnailConcurrency
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		runner:   runner,
		cache:    cache,
		eventBus: eventBus,
		logger:   logger,
		budget:   budget,
		pending:  make(map[int64]struct{}),
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue admits fileID unless it is already queued, running, or settled in
// the cache. It reports whether the item was admitted.
func (s *Scheduler) Enqueue(fileID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.pending[fileID]; ok {
		return false
	}
	if s.cache.Status(fileID).Settled() {
		return false
	}

	s.pending[fileID] = struct{}{}
	s.queue = append(s.queue, fileID)
	s.markBusyLocked()
	s.cache.Set(fileID, StatusQueued, "", "")
	s.drainLocked()
	return true
}

// Retry clears an error entry for fileID and enqueues it again.
func (s *Scheduler) Retry(fileID int64) bool {
	if s.cache.Status(fileID) == StatusError {
		s.cache.Clear(fileID)
	}
	return s.Enqueue(fileID)
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Queued:    len(s.queue),
		Running:   s.running,
		Peak:      s.peak,
		Completed: s.done,
		Failed:    s.failed,
	}
}

// Wait blocks until nothing is queued or running, or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops admitting work, cancels running items, and waits for them.
// Queued items that never started are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, id := range s.queue {
		delete(s.pending, id)
		s.cache.Clear(id)
	}
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.markIdleLocked()
	s.mu.Unlock()
}

// drainLocked starts queued items while the budget allows.
func (s *Scheduler) drainLocked() {
	for !s.closed && s.running < s.budget && len(s.queue) > 0 {
		fileID := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		if s.running > s.peak {
			s.peak = s.running
		}
		s.wg.Add(1)
		go s.execute(fileID)
	}
}

func (s *Scheduler) execute(fileID int64) {
	defer s.wg.Done()

	start := time.Now()
	var res Result
	func() {
		// A panicking run still releases its slot and settles the entry.
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("thumbnail run for file %d panicked: %v", fileID, r)
				res = Result{FileID: fileID, Status: StatusError, Message: "internal error", Err: fmt.Errorf("panic: %v", r)}
				s.cache.Set(fileID, StatusError, "", res.Message)
			}
		}()
		res = s.runner.Run(s.ctx, fileID)
	}()

	s.logger.Debug().
		Int64("file_id", fileID).
		Str("status", string(res.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("thumbnail run finished")

	s.finish(fileID, res)
}

func (s *Scheduler) finish(fileID int64, res Result) {
	s.mu.Lock()
	delete(s.pending, fileID)
	s.running--
	switch res.Status {
	case StatusReady:
		s.done++
	case StatusError:
		s.failed++
	}
	s.drainLocked()

	becameIdle := false
	if s.running == 0 && len(s.queue) == 0 {
		becameIdle = s.markIdleLocked()
	}
	completed := s.done + s.failed
	s.mu.Unlock()

	if becameIdle && s.eventBus != nil {
		s.eventBus.Publish(&events.IdleEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventThumbnailIdle, Time: time.Now()},
			Completed: completed,
		})
	}
}

func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *Scheduler) markIdleLocked() bool {
	select {
	case <-s.idle:
		return false
	default:
		close(s.idle)
		return true
	}
}
