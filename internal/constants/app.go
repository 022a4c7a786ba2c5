package constants

import (
	"time"
)

// Pagination
const (
	// DefaultGroupPageSize - groups requested per page (200)
	DefaultGroupPageSize = 200

	// DefaultFilePageSize - group files requested per page (200)
	DefaultFilePageSize = 200

	// MinPageSize / MaxPageSize - bounds accepted by the server for `limit`
	MinPageSize = 1
	MaxPageSize = 1000

	// MaxPaginationPages - maximum pages fetched by --all commands before stopping
	// (prevents infinite loops against a server that keeps returning a cursor)
	MaxPaginationPages = 10000
)

// Viewport virtualization
const (
	// ViewportOverscan - rows materialized above and below the visible window
	// to absorb scroll jitter without visible pop-in
	ViewportOverscan = 4

	// LoadMoreThresholdRows - infinite scroll triggers when the bottom of the
	// viewport is within this many row heights of the end of the list
	LoadMoreThresholdRows = 1.5

	// VisibilityMarginRows - rows beyond the viewport at which a thumbnail
	// placeholder already counts as visible
	VisibilityMarginRows = 6
)

// Thumbnail scheduling
const (
	// ThumbnailConcurrency - maximum thumbnail items in flight per session (6)
	// Caps backend load regardless of how many rows are visible
	ThumbnailConcurrency = 6

	// DefaultThumbnailMaxDimension - requested bounding box in pixels (256)
	DefaultThumbnailMaxDimension = 256

	// MaxThumbnailDimension - largest max_dimension the server accepts (4096)
	MaxThumbnailDimension = 4096

	// DefaultThumbnailFormat - requested output format
	DefaultThumbnailFormat = "jpeg"
)

// Thumbnail request backoff (client side, 429/503 admission errors)
const (
	// RequestBackoffBase - base delay, doubled per attempt (300ms)
	RequestBackoffBase = 300 * time.Millisecond

	// RequestBackoffJitter - upper bound (exclusive) of uniform jitter added to each delay
	RequestBackoffJitter = 180 * time.Millisecond

	// RequestMaxRetries - retries after the first retryable failure; the next
	// retryable failure is terminal
	RequestMaxRetries = 4
)

// Thumbnail polling
const (
	// PollMaxAttempts - status polls and cooldowns before giving up with a timeout (12)
	PollMaxAttempts = 12

	// PollBaseInterval - wait before the first poll (500ms)
	PollBaseInterval = 500 * time.Millisecond

	// PollIntervalStep - linear increase after each non-terminal poll (300ms)
	PollIntervalStep = 300 * time.Millisecond

	// PollMaxInterval - cap for the poll interval (2400ms)
	PollMaxInterval = 2400 * time.Millisecond

	// CooldownMin / CooldownMax - clamp for server-directed retry_after waits
	CooldownMin = 500 * time.Millisecond
	CooldownMax = 5000 * time.Millisecond
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// API rate limiting (client side, per session)
const (
	// DefaultRequestsPerSecond - sustained request rate towards the catalog server
	DefaultRequestsPerSecond = 20.0

	// DefaultRequestBurst - tokens available at startup
	DefaultRequestBurst = 60.0

	// RateLimitWarningThreshold - delay threshold to log a warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second

	// RateLimitWarningInterval - minimum interval between warnings (10 seconds)
	RateLimitWarningInterval = 10 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (15 seconds)
	HTTPTLSHandshakeTimeout = 15 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (10 seconds)
	HTTPDialTimeout = 10 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPRequestTimeout - overall timeout for a single API request (30 seconds)
	HTTPRequestTimeout = 30 * time.Second

	// TransportRetryMax - retries of connection errors and 5xx in the transport
	TransportRetryMax = 3

	// TransportRetryWaitMin / TransportRetryWaitMax - transport retry wait bounds
	TransportRetryWaitMin = 200 * time.Millisecond
	TransportRetryWaitMax = 2 * time.Second

	// APIConnectionTestTimeout - timeout for the health check command (10 seconds)
	APIConnectionTestTimeout = 10 * time.Second
)

// UI Updates
const (
	// SpinnerInterval - terminal spinner frame interval
	SpinnerInterval = 120 * time.Millisecond

	// ProgressUpdateInterval - refresh rate of CLI progress bars (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)
