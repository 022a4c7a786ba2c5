package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/ratelimit"
)

// newTestClient points a client at srv with transport retries and rate limits out of the way.
func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	cfg := config.New()
	cfg.APIBaseURL = srv.URL + "/api/v1"
	cfg.APIToken = "test-token"

	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithRateLimits(ratelimit.NewRegistry(1000, 1000)),
	}, opts...)
	c, err := NewClient(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// TestNewClientRejectsEmptyBaseURL verifies that NewClient fails with a clear error
// when APIBaseURL is empty, instead of creating a broken client.
func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	cfg := config.New()
	cfg.APIBaseURL = ""

	_, err := NewClient(cfg, nil)
	if err == nil {
		t.Fatal("NewClient() should return error for empty APIBaseURL")
	}
	if !errors.Is(err, config.ErrMissingAPIURL) {
		t.Errorf("NewClient() error = %v, want ErrMissingAPIURL", err)
	}
}

func TestNewClientRejectsRelativeBaseURL(t *testing.T) {
	cfg := config.New()
	cfg.APIBaseURL = "/api/v1"

	if _, err := NewClient(cfg, nil); !errors.Is(err, config.ErrInvalidAPIURL) {
		t.Errorf("NewClient() error = %v, want ErrInvalidAPIURL", err)
	}
}

// TestNewClientAcceptsValidBaseURL verifies NewClient works with a valid config.
func TestNewClientAcceptsValidBaseURL(t *testing.T) {
	cfg := config.New()
	cfg.APIBaseURL = "https://catalog.example.org/api/v1/"

	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v, want nil", err)
	}
	if client.BaseURL() != "https://catalog.example.org/api/v1" {
		t.Errorf("BaseURL() = %q", client.BaseURL())
	}
}

func TestListGroups(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/duplicates/groups" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[{"group_key":"sha256:aa","file_count":3,"total_size_bytes":300,"duplicate_waste_bytes":200}],"next_cursor":"c2"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	cursor := "c1"
	page, err := c.ListGroups(context.Background(), &cursor, 50)
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}

	if gotQuery != "cursor=c1&limit=50" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(page.Items) != 1 || page.Items[0].GroupKey != "sha256:aa" || page.Items[0].DuplicateWasteBytes != 200 {
		t.Errorf("items = %+v", page.Items)
	}
	if !page.HasMore() || *page.NextCursor != "c2" {
		t.Errorf("NextCursor = %v", page.NextCursor)
	}
}

func TestListGroupsClampsLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  string
	}{
		{0, "limit=1"},
		{-5, "limit=1"},
		{200, "limit=200"},
		{5000, "limit=1000"},
	}

	for _, tt := range tests {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.RawQuery
			io.WriteString(w, `{"items":[],"next_cursor":null}`)
		}))
		c := newTestClient(t, srv)
		page, err := c.ListGroups(context.Background(), nil, tt.limit)
		srv.Close()
		if err != nil {
			t.Fatalf("limit %d: %v", tt.limit, err)
		}
		if got != tt.want {
			t.Errorf("limit %d: query = %q, want %q", tt.limit, got, tt.want)
		}
		if page.HasMore() {
			t.Errorf("limit %d: null cursor should mean no more pages", tt.limit)
		}
	}
}

func TestListGroupFilesEscapesKey(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		io.WriteString(w, `{"items":[{"file_id":7,"library_name":"photos","relative_path":"a/b.jpg","size_bytes":10}],"next_cursor":null}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.ListGroupFiles(context.Background(), "weird/key ?", nil, 10)
	if err != nil {
		t.Fatalf("ListGroupFiles() error = %v", err)
	}
	if gotPath != "/api/v1/duplicates/groups/weird%2Fkey%20%3F/files" {
		t.Errorf("path = %q", gotPath)
	}
	if len(page.Items) != 1 || page.Items[0].FileID != 7 {
		t.Errorf("items = %+v", page.Items)
	}

	if _, err := c.ListGroupFiles(context.Background(), "", nil, 10); err == nil {
		t.Error("empty group key should be rejected")
	}
}

func TestRequestThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/thumbs/request" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req models.ThumbnailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.FileID != 42 || req.MaxDimension != 256 || req.OutputFormat != "jpeg" {
			t.Errorf("request = %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"thumb_key":"t42","file_id":42,"status":"ready","content_url":"/api/v1/thumbs/t42/content"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	snap, err := c.RequestThumbnail(context.Background(), models.ThumbnailRequest{FileID: 42, MaxDimension: 256, OutputFormat: "jpeg"})
	if err != nil {
		t.Fatalf("RequestThumbnail() error = %v", err)
	}
	if !snap.IsReady() || snap.ThumbKey != "t42" {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := c.ResolveURL(*snap.ContentURL); got != srv.URL+"/api/v1/thumbs/t42/content" {
		t.Errorf("ResolveURL() = %q", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		detail    string
		retryable bool
		notFound  bool
		conflict  bool
		after     *time.Time
	}{
		{
			name:      "queue full",
			status:    http.StatusTooManyRequests,
			header:    "2",
			body:      `{"detail":"thumbnail queue is full"}`,
			detail:    "thumbnail queue is full",
			retryable: true,
			after:     timePtr(now.Add(2 * time.Second)),
		},
		{
			name:      "unavailable with body retry",
			status:    http.StatusServiceUnavailable,
			body:      `{"detail":"busy","retry_after":"2026-03-01T10:00:04Z"}`,
			detail:    "busy",
			retryable: true,
			after:     timePtr(now.Add(4 * time.Second)),
		},
		{
			name:     "missing file",
			status:   http.StatusNotFound,
			body:     `{"detail":"file 9 not found"}`,
			detail:   "file 9 not found",
			notFound: true,
		},
		{
			name:     "policy",
			status:   http.StatusConflict,
			body:     `{"detail":"unsupported media type"}`,
			detail:   "unsupported media type",
			conflict: true,
		},
		{
			name:   "validation list",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["query","limit"]}]}`,
			detail: `[{"loc":["query","limit"]}]`,
		},
		{
			name:   "plain text",
			status: http.StatusBadGateway,
			body:   "upstream down\n",
			detail: "upstream down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, WithClock(func() time.Time { return now }))
			_, err := c.RequestThumbnail(context.Background(), models.ThumbnailRequest{FileID: 9})

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Detail != tt.detail {
				t.Errorf("got status %d detail %q", apiErr.StatusCode, apiErr.Detail)
			}
			if IsRetryable(err) != tt.retryable || IsNotFound(err) != tt.notFound || IsConflict(err) != tt.conflict {
				t.Errorf("classifiers: retryable=%v notFound=%v conflict=%v", IsRetryable(err), IsNotFound(err), IsConflict(err))
			}
			switch {
			case tt.after == nil && apiErr.RetryAfter != nil:
				t.Errorf("unexpected RetryAfter %v", apiErr.RetryAfter)
			case tt.after != nil && (apiErr.RetryAfter == nil || !apiErr.RetryAfter.Equal(*tt.after)):
				t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.after)
			}
			if Detail(err) != tt.detail {
				t.Errorf("Detail() = %q", Detail(err))
			}
		})
	}
}

func TestThrottleDrainsScopeLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limits := ratelimit.NewRegistry(0.001, 10)
	c := newTestClient(t, srv, WithRateLimits(limits))

	_, _ = c.GetThumbnail(context.Background(), "t1")

	if got := limits.Limiter(ratelimit.ScopeThumbnails).GetCurrentTokens(); got > 0.1 {
		t.Errorf("thumbnail tokens after 429 = %.2f, want ~0", got)
	}
	if got := limits.Limiter(ratelimit.ScopeBrowse).GetCurrentTokens(); got < 9.9 {
		t.Errorf("browse tokens = %.2f, want untouched", got)
	}
	usage, throttled := c.Usage()
	if throttled != 1 || usage[ratelimit.ScopeThumbnails] != 1 {
		t.Errorf("usage = %v throttled = %d", usage, throttled)
	}
}

func TestCancelledRequestReturnsContextError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = c.ListGroups(ctx, nil, 10)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSmallEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/health":
			io.WriteString(w, `{"status":"ok","service":"dedupfs","environment":"test","dry_run":true,"timestamp":"2026-03-01T10:00:00Z"}`)
		case "/api/v1/thumbs/metrics":
			io.WriteString(w, `{"generated_at":"2026-03-01T10:00:00Z","queue_depth":4,"queue_pending":3,"queue_running":1,"retry_backlog":2}`)
		case "/api/v1/thumbs/cleanup/group":
			var req models.GroupCleanupRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.GroupKey != "sha256:aa" || req.DelaySeconds == nil || *req.DelaySeconds != 600 {
				t.Errorf("cleanup request = %+v", req)
			}
			io.WriteString(w, `{"id":1,"group_key":"sha256:aa","status":"pending","execute_after":"2026-03-01T10:10:00Z","created_at":"2026-03-01T10:00:00Z"}`)
		case "/api/v1/thumbs/t1/content":
			io.WriteString(w, "JPEGDATA")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil || h.Status != "ok" || !h.DryRun {
		t.Errorf("Health() = %+v, %v", h, err)
	}
	if err := c.CheckConnection(ctx); err != nil {
		t.Errorf("CheckConnection() = %v", err)
	}

	m, err := c.GetThumbnailMetrics(ctx)
	if err != nil || m.QueueDepth != 4 || m.RetryBacklog != 2 {
		t.Errorf("GetThumbnailMetrics() = %+v, %v", m, err)
	}

	delay := 600
	cl, err := c.ScheduleGroupCleanup(ctx, models.GroupCleanupRequest{GroupKey: "sha256:aa", DelaySeconds: &delay})
	if err != nil || cl.Status != "pending" {
		t.Errorf("ScheduleGroupCleanup() = %+v, %v", cl, err)
	}

	var buf bytes.Buffer
	n, err := c.DownloadContent(ctx, "/api/v1/thumbs/t1/content", &buf)
	if err != nil || n != 8 || buf.String() != "JPEGDATA" {
		t.Errorf("DownloadContent() = %d, %q, %v", n, buf.String(), err)
	}

	if _, err := c.GetThumbnail(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetThumbnail(missing) err = %v, want not found", err)
	}
	if !strings.Contains(c.ResolveURL("/x"), srv.URL) {
		t.Errorf("ResolveURL(/x) = %q", c.ResolveURL("/x"))
	}
}

func timePtr(t time.Time) *time.Time { return &t }
