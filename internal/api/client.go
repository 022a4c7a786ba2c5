package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/http"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/ratelimit"
)

// maxErrorBody caps how much of an error response is kept for the message.
const maxErrorBody = 64 << 10

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	callsByScope  map[ratelimit.Scope]int64
	throttled     int64
	windowStart   time.Time
	callsInWindow int64
}

// Client talks to the catalog HTTP API.
type Client struct {
	httpClient *nethttp.Client
	baseURL    *url.URL
	token      string
	limits     *ratelimit.Registry
	logger     *logging.Logger
	now        func() time.Time
	metrics    *apiMetrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport-configured client (tests use this to
// skip transport retries).
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimits replaces the per-scope limiters built from the config.
func WithRateLimits(r *ratelimit.Registry) Option {
	return func(c *Client) { c.limits = r }
}

// WithClock sets the time source used to resolve Retry-After headers.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new API client.
func NewClient(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty: %w", config.ErrMissingAPIURL)
	}
	base, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidAPIURL, cfg.APIBaseURL)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	c := &Client{
		baseURL: base,
		token:   cfg.APIToken,
		logger:  logger.Named("api"),
		now:     time.Now,
		metrics: &apiMetrics{
			callsByScope: make(map[ratelimit.Scope]int64),
			windowStart:  time.Now(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc, err := http.NewClient(cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		c.httpClient = hc
	}
	if c.limits == nil {
		rate, burst := cfg.RequestsPerSecond, cfg.Burst
		if rate <= 0 {
			rate = constants.DefaultRequestsPerSecond
		}
		if burst <= 0 {
			burst = constants.DefaultRequestBurst
		}
		c.limits = ratelimit.NewRegistry(rate, burst)
	}
	c.limits.SetLogger(c.logger)

	return c, nil
}

// BaseURL returns the versioned API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ResolveURL resolves a server-issued content reference against the API
// origin. Content URLs are absolute paths ("/api/v1/thumbs/k/content").
func (c *Client) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

// doRequest performs an HTTP request with authentication and rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*nethttp.Response, error) {
	scope := c.limits.ResolveScope(method, path)
	if err := c.limits.Limiter(scope).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	c.trackCall(scope)

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	// path segments are already escaped; JoinPath keeps them that way
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded or shut down; not worth more than a debug line
			c.logger.Debug().Str("method", method).Str("path", path).Msg("request cancelled")
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.limits.Limiter(scope).Drain()
		c.metrics.Lock()
		c.metrics.throttled++
		c.metrics.Unlock()
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Str("scope", string(scope)).
			Str("retry_after", resp.Header.Get("Retry-After")).
			Msg("throttled by server")
	}

	return resp, nil
}

// trackCall counts a request and logs usage every 30 seconds.
func (c *Client) trackCall(scope ratelimit.Scope) {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.metrics.totalCalls++
	c.metrics.callsByScope[scope]++
	c.metrics.callsInWindow++

	if elapsed := time.Since(c.metrics.windowStart); elapsed >= 30*time.Second {
		c.logger.Debug().
			Float64("req_per_sec", float64(c.metrics.callsInWindow)/elapsed.Seconds()).
			Int64("total", c.metrics.totalCalls).
			Int64("throttled", c.metrics.throttled).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
}

// Usage returns the total number of calls per scope and the number of 429s seen.
func (c *Client) Usage() (map[ratelimit.Scope]int64, int64) {
	c.metrics.Lock()
	defer c.metrics.Unlock()
	out := make(map[ratelimit.Scope]int64, len(c.metrics.callsByScope))
	for k, v := range c.metrics.callsByScope {
		out[k] = v
	}
	return out, c.metrics.throttled
}

// doJSON runs a request and decodes a 2xx JSON body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newError(method, path, resp, data, c.now())
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// pageQuery builds limit/cursor query parameters, clamping limit to 1..1000.
func pageQuery(cursor *string, limit int) url.Values {
	if limit < constants.MinPageSize {
		limit = constants.MinPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != nil && *cursor != "" {
		q.Set("cursor", *cursor)
	}
	return q
}

// ListGroups fetches one page of duplicate groups.
func (c *Client) ListGroups(ctx context.Context, cursor *string, limit int) (*models.GroupPage, error) {
	var page models.GroupPage
	if err := c.doJSON(ctx, nethttp.MethodGet, "/duplicates/groups", pageQuery(cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListGroupFiles fetches one page of a group's member files.
func (c *Client) ListGroupFiles(ctx context.Context, groupKey string, cursor *string, limit int) (*models.FilePage, error) {
	if groupKey == "" {
		return nil, errors.New("group key is required")
	}
	path := "/duplicates/groups/" + url.PathEscape(groupKey) + "/files"
	var page models.FilePage
	if err := c.doJSON(ctx, nethttp.MethodGet, path, pageQuery(cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// RequestThumbnail asks the server to produce a thumbnail for a file. The
// returned snapshot may already be ready.
func (c *Client) RequestThumbnail(ctx context.Context, req models.ThumbnailRequest) (*models.Thumbnail, error) {
	var snap models.Thumbnail
	if err := c.doJSON(ctx, nethttp.MethodPost, "/thumbs/request", nil, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetThumbnail polls a thumbnail job.
func (c *Client) GetThumbnail(ctx context.Context, thumbKey string) (*models.Thumbnail, error) {
	if thumbKey == "" {
		return nil, errors.New("thumb key is required")
	}
	var snap models.Thumbnail
	if err := c.doJSON(ctx, nethttp.MethodGet, "/thumbs/"+url.PathEscape(thumbKey), nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetThumbnailMetrics returns the server's thumbnail queue counters.
func (c *Client) GetThumbnailMetrics(ctx context.Context) (*models.ThumbnailMetrics, error) {
	var m models.ThumbnailMetrics
	if err := c.doJSON(ctx, nethttp.MethodGet, "/thumbs/metrics", nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ScheduleGroupCleanup asks the server to remove a group's rendered thumbnails
// after an optional delay.
func (c *Client) ScheduleGroupCleanup(ctx context.Context, req models.GroupCleanupRequest) (*models.GroupCleanup, error) {
	if req.GroupKey == "" {
		return nil, errors.New("group key is required")
	}
	var snap models.GroupCleanup
	if err := c.doJSON(ctx, nethttp.MethodPost, "/thumbs/cleanup/group", nil, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Health returns the server health document.
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	var h models.Health
	if err := c.doJSON(ctx, nethttp.MethodGet, "/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DownloadContent streams a ready thumbnail's bytes into w.
func (c *Client) DownloadContent(ctx context.Context, contentURL string, w io.Writer) (int64, error) {
	if contentURL == "" {
		return 0, errors.New("content URL is required")
	}
	target := c.ResolveURL(contentURL)
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	scope := c.limits.ResolveScope(nethttp.MethodGet, req.URL.Path)
	if err := c.limits.Limiter(scope).Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	c.trackCall(scope)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, newError(nethttp.MethodGet, req.URL.Path, resp, data, c.now())
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read thumbnail content: %w", err)
	}
	return n, nil
}

// CheckConnection verifies the server answers the health endpoint within the
// connection test timeout.
func (c *Client) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.APIConnectionTestTimeout)
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	if h.Status != "ok" {
		return fmt.Errorf("connection test failed: server status %q", h.Status)
	}
	return nil
}
