package thumbs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dedupfs/dupview/internal/api"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/http"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/models"
)

// Terminal failures of a thumbnail run.
var (
	// ErrExhaustedRetries means every request attempt was refused with 429/503.
	ErrExhaustedRetries = http.ErrExhaustedRetries
	// ErrPollTimeout means the poll budget ran out while the job was still pending.
	ErrPollTimeout = errors.New("timeout")
	// ErrGenerationFailed means the server reported a failed job with no retry time.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrMissingThumbKey means a non-ready snapshot carried nothing to poll.
	ErrMissingThumbKey = errors.New("missing thumb key")
)

// GenerationError is a failed server job that the server will not retry.
type GenerationError struct {
	ThumbKey string
	Reason   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Reason)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// Backend is the subset of the API client the engine drives.
type Backend interface {
	RequestThumbnail(ctx context.Context, req models.ThumbnailRequest) (*models.Thumbnail, error)
	GetThumbnail(ctx context.Context, thumbKey string) (*models.Thumbnail, error)
}

// EngineConfig tunes one engine. Zero fields take the package defaults.
type EngineConfig struct {
	MaxDimension int
	Format       string

	Backoff         http.BackoffConfig
	PollMaxAttempts int
	PollBase        time.Duration
	PollStep        time.Duration
	PollMax         time.Duration
	CooldownMin     time.Duration
	CooldownMax     time.Duration
}

// DefaultEngineConfig returns the standard request and polling parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDimension:    constants.DefaultThumbnailMaxDimension,
		Format:          constants.DefaultThumbnailFormat,
		Backoff:         http.DefaultBackoffConfig(api.IsRetryable),
		PollMaxAttempts: constants.PollMaxAttempts,
		PollBase:        constants.PollBaseInterval,
		PollStep:        constants.PollIntervalStep,
		PollMax:         constants.PollMaxInterval,
		CooldownMin:     constants.CooldownMin,
		CooldownMax:     constants.CooldownMax,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.MaxDimension <= 0 {
		c.MaxDimension = d.MaxDimension
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Backoff.Retryable == nil {
		c.Backoff = d.Backoff
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = d.PollMaxAttempts
	}
	if c.PollBase <= 0 {
		c.PollBase = d.PollBase
	}
	if c.PollStep < 0 {
		c.PollStep = d.PollStep
	}
	if c.PollMax <= 0 {
		c.PollMax = d.PollMax
	}
	if c.CooldownMin <= 0 {
		c.CooldownMin = d.CooldownMin
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = d.CooldownMax
	}
	return c
}

// Result is the outcome of one Run.
type Result struct {
	FileID     int64
	Status     Status // StatusReady or StatusError; empty when cancelled
	ContentURL string
	Message    string
	Err        error
	Requests   int // generation requests sent, retries included
	Polls      int
	Cooldowns  int // server-requested waits, each counted as a poll attempt
}

type phase int

const (
	phaseRequesting phase = iota
	phasePolling
	phaseCooldown
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseRequesting:
		return "requesting"
	case phasePolling:
		return "polling"
	case phaseCooldown:
		return "cooldown"
	default:
		return "done"
	}
}

// Engine drives a single file from "requested" to a settled cache entry.
//
// Request: generation requests refused with 429/503 are retried with
// exponential backoff; any other request error is terminal.
// Poll: the job is polled on a linearly growing interval up to a fixed number
// of polls. A failed snapshot carrying retry_after sends the run through a
// cooldown and a fresh generation request; the poll interval restarts from
// base but the poll count keeps accumulating.
type Engine struct {
	backend Backend
	cache   *Cache
	clock   Clock
	cfg     EngineConfig
	logger  *logging.Logger
}

// NewEngine creates an engine writing its outcomes into cache.
func NewEngine(backend Backend, cache *Cache, clock Clock, cfg EngineConfig, logger *logging.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{
		backend: backend,
		cache:   cache,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// run carries the mutable state of one Run.
type run struct {
	fileID     int64
	phase      phase
	thumbKey   string
	retryAfter time.Time
	pollN      int // index into the poll interval sequence
	attempts   int // polls plus cooldowns, bounded by PollMaxAttempts
	res        Result
}

// Run executes the state machine for fileID and writes exactly one settled
// entry (ready or error) into the cache. On context cancellation the
// transient entry is cleared instead so a later session can try again.
func (e *Engine) Run(ctx context.Context, fileID int64) Result {
	r := &run{fileID: fileID, phase: phaseRequesting, res: Result{FileID: fileID}}

	var err error
	for r.phase != phaseDone && err == nil {
		switch r.phase {
		case phaseRequesting:
			err = e.request(ctx, r)
		case phasePolling:
			err = e.poll(ctx, r)
		case phaseCooldown:
			err = e.cooldown(ctx, r)
		}
	}

	if err != nil {
		return e.fail(ctx, r, err)
	}
	return r.res
}

func (e *Engine) request(ctx context.Context, r *run) error {
	e.cache.Set(r.fileID, StatusRequesting, "", "")

	req := models.ThumbnailRequest{
		FileID:       r.fileID,
		MaxDimension: e.cfg.MaxDimension,
		OutputFormat: e.cfg.Format,
	}

	backoff := e.cfg.Backoff
	backoff.Sleep = e.clock.Sleep
	backoff.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Debug().
			Int64("file_id", r.fileID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Int("status", api.StatusCode(err)).
			Msg("thumbnail request refused, backing off")
	}

	var snap *models.Thumbnail
	err := http.ExecuteWithBackoff(ctx, backoff, func(ctx context.Context) error {
		r.res.Requests++
		s, err := e.backend.RequestThumbnail(ctx, req)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return err
	}
	return e.apply(r, snap)
}

func (e *Engine) poll(ctx context.Context, r *run) error {
	if r.attempts >= e.cfg.PollMaxAttempts {
		return ErrPollTimeout
	}

	wait := http.PollInterval(r.pollN, e.cfg.PollBase, e.cfg.PollStep, e.cfg.PollMax)
	if err := e.clock.Sleep(ctx, wait); err != nil {
		return err
	}

	r.attempts++
	r.res.Polls++
	r.pollN++
	snap, err := e.backend.GetThumbnail(ctx, r.thumbKey)
	if err != nil {
		if api.IsRetryable(err) && ctx.Err() == nil {
			// Admission pressure while polling costs one poll, nothing more.
			e.logger.Debug().Int64("file_id", r.fileID).Err(err).Msg("poll refused")
			return nil
		}
		return err
	}
	return e.apply(r, snap)
}

func (e *Engine) cooldown(ctx context.Context, r *run) error {
	if r.attempts >= e.cfg.PollMaxAttempts {
		return ErrPollTimeout
	}
	r.attempts++
	r.res.Cooldowns++
	e.cache.Set(r.fileID, StatusRetrying, "", "")

	wait := http.CooldownDelay(r.retryAfter, e.clock.Now(), e.cfg.CooldownMin, e.cfg.CooldownMax)
	e.logger.Debug().Int64("file_id", r.fileID).Dur("wait", wait).Msg("server asked to retry later")
	if err := e.clock.Sleep(ctx, wait); err != nil {
		return err
	}
	r.pollN = 0
	r.phase = phaseRequesting
	return nil
}

// apply moves the run according to a server snapshot.
func (e *Engine) apply(r *run, snap *models.Thumbnail) error {
	switch {
	case snap.IsReady():
		url := *snap.ContentURL
		e.cache.Set(r.fileID, StatusReady, url, "")
		r.res.Status = StatusReady
		r.res.ContentURL = url
		r.phase = phaseDone
		e.logger.Debug().
			Int64("file_id", r.fileID).
			Int("requests", r.res.Requests).
			Int("polls", r.res.Polls).
			Msg("thumbnail ready")
		return nil

	case snap.Status == models.ThumbnailFailed:
		if snap.RetryAfter == nil {
			return &GenerationError{ThumbKey: snap.ThumbKey, Reason: snap.Reason()}
		}
		r.retryAfter = *snap.RetryAfter
		r.phase = phaseCooldown
		return nil
	}

	if snap.ThumbKey != "" {
		r.thumbKey = snap.ThumbKey
	}
	if r.thumbKey == "" {
		return ErrMissingThumbKey
	}
	if r.phase == phaseRequesting {
		r.pollN = 0
		e.cache.Set(r.fileID, StatusRendering, "", "")
	}
	r.phase = phasePolling
	return nil
}

func (e *Engine) fail(ctx context.Context, r *run, err error) Result {
	r.res.Err = err
	failedIn := r.phase
	r.phase = phaseDone

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		e.cache.Clear(r.fileID)
		return r.res
	}

	r.res.Status = StatusError
	r.res.Message = failureMessage(err)
	e.cache.Set(r.fileID, StatusError, "", r.res.Message)
	e.logger.Debug().
		Int64("file_id", r.fileID).
		Int("requests", r.res.Requests).
		Int("polls", r.res.Polls).
		Stringer("phase", failedIn).
		Err(err).
		Msg("thumbnail failed")
	return r.res
}

// failureMessage maps a terminal error to the short reason shown on the row.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrExhaustedRetries):
		return "exhausted retries"
	case errors.Is(err, ErrPollTimeout):
		return "timeout"
	case errors.Is(err, ErrGenerationFailed):
		var genErr *GenerationError
		if errors.As(err, &genErr) && genErr.Reason != "" {
			return genErr.Reason
		}
		return ErrGenerationFailed.Error()
	case errors.Is(err, ErrMissingThumbKey):
		return ErrMissingThumbKey.Error()
	}
	if d := api.Detail(err); d != "" {
		return d
	}
	return err.Error()
}
