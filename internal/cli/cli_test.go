package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/thumbs"
)

// catalogServer serves groups g0..g4 with three files each and renders every
// thumbnail on the first request.
type catalogServer struct {
	*httptest.Server
	requests atomic.Int32
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	cs := &catalogServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/duplicates/groups", func(w http.ResponseWriter, r *http.Request) {
		start, end, next := pageWindow(r, 5)
		page := models.GroupPage{NextCursor: next}
		for i := start; i < end; i++ {
			page.Items = append(page.Items, models.Group{
				GroupKey:            fmt.Sprintf("g%d", i),
				FileCount:           3,
				DuplicateWasteBytes: 1000,
			})
		}
		json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("GET /api/v1/duplicates/groups/{key}/files", func(w http.ResponseWriter, r *http.Request) {
		var g int
		fmt.Sscanf(r.PathValue("key"), "g%d", &g)
		start, end, next := pageWindow(r, 3)
		page := models.FilePage{NextCursor: next}
		for i := start; i < end; i++ {
			page.Items = append(page.Items, models.FileEntry{
				FileID:       int64(g*10 + i + 1),
				LibraryName:  "lib",
				RelativePath: fmt.Sprintf("%s/f%d.png", r.PathValue("key"), i),
				SizeBytes:    500,
			})
		}
		json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("POST /api/v1/thumbs/request", func(w http.ResponseWriter, r *http.Request) {
		cs.requests.Add(1)
		var req models.ThumbnailRequest
		json.NewDecoder(r.Body).Decode(&req)
		url := fmt.Sprintf("/api/v1/thumbs/t%d/content", req.FileID)
		json.NewEncoder(w).Encode(models.Thumbnail{
			ThumbKey:   fmt.Sprintf("t%d", req.FileID),
			Status:     models.ThumbnailReady,
			ContentURL: &url,
		})
	})
	mux.HandleFunc("GET /api/v1/thumbs/{key}/content", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "jpegbytes")
	})
	mux.HandleFunc("GET /api/v1/thumbs/metrics", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ThumbnailMetrics{QueueDepth: 7, QueuePending: 4, QueueRunning: 3})
	})
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Health{Status: "ok", Service: "catalog", Environment: "test"})
	})

	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Close)
	return cs
}

func pageWindow(r *http.Request, total int) (start, end int, next *string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	start, _ = strconv.Atoi(r.URL.Query().Get("cursor"))
	end = min(start+limit, total)
	if end < total {
		c := strconv.Itoa(end)
		next = &c
	}
	return start, end, next
}

// run executes the CLI with args against srv and returns stdout.
func run(t *testing.T, srv *catalogServer, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvAPIToken, "")
	t.Setenv(config.EnvCachePath, "")

	root := NewRootCmd()
	AddCommands(root)

	base := []string{"--config", filepath.Join(t.TempDir(), "config")}
	if srv != nil {
		base = append(base, "--api-url", srv.URL+"/api/v1")
	}
	root.SetArgs(append(base, args...))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	err := root.Execute()
	return out.String(), err
}

func TestGroupsListLimit(t *testing.T) {
	srv := newCatalogServer(t)
	out, err := run(t, srv, "", "groups", "list", "--limit", "2")
	if err != nil {
		t.Fatalf("groups list: %v", err)
	}
	for _, want := range []string{"Found 2 group(s)", "g0", "g1", "More groups available"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "g2") {
		t.Errorf("output lists more than --limit groups:\n%s", out)
	}
}

func TestGroupsListAllJSON(t *testing.T) {
	srv := newCatalogServer(t)
	out, err := run(t, srv, "", "groups", "list", "--all", "--json")
	if err != nil {
		t.Fatalf("groups list: %v", err)
	}
	var groups []models.Group
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(groups) != 5 {
		t.Errorf("got %d groups, want 5", len(groups))
	}
}

func TestGroupsFiles(t *testing.T) {
	srv := newCatalogServer(t)
	out, err := run(t, srv, "", "groups", "files", "g1")
	if err != nil {
		t.Fatalf("groups files: %v", err)
	}
	if !strings.Contains(out, "Group g1: 3 file(s)") || !strings.Contains(out, "lib:g1/f2.png") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestThumbsPrefetch(t *testing.T) {
	srv := newCatalogServer(t)
	if _, err := run(t, srv, "", "thumbs", "prefetch", "g0", "g3"); err != nil {
		t.Fatalf("thumbs prefetch: %v", err)
	}
	if got := srv.requests.Load(); got != 6 {
		t.Errorf("thumbnail requests = %d, want 6", got)
	}
}

func TestThumbsGet(t *testing.T) {
	srv := newCatalogServer(t)
	dest := filepath.Join(t.TempDir(), "thumb.jpeg")
	out, err := run(t, srv, "", "thumbs", "get", "12", "--output", dest)
	if err != nil {
		t.Fatalf("thumbs get: %v", err)
	}
	if !strings.Contains(out, "Saved ") || !strings.Contains(out, "thumb.jpeg") {
		t.Errorf("unexpected output:\n%s", out)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "jpegbytes" {
		t.Errorf("saved file = %q, %v", data, err)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temporary .part file left behind")
	}
}

func TestThumbnailError(t *testing.T) {
	tests := []struct {
		name  string
		entry thumbs.Entry
		want  string
	}{
		{"reason", thumbs.Entry{Status: thumbs.StatusError, Message: "timeout"}, "thumbnail for file 7: timeout"},
		{"error without reason", thumbs.Entry{Status: thumbs.StatusError}, "thumbnail for file 7: error"},
		{"cleared entry", thumbs.Entry{}, "thumbnail for file 7: cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := thumbnailError(7, tt.entry).Error(); got != tt.want {
				t.Errorf("thumbnailError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThumbsMetrics(t *testing.T) {
	srv := newCatalogServer(t)
	out, err := run(t, srv, "", "thumbs", "metrics")
	if err != nil {
		t.Fatalf("thumbs metrics: %v", err)
	}
	if !strings.Contains(out, "Depth:    7 (4 pending, 3 running)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestHealth(t *testing.T) {
	srv := newCatalogServer(t)
	out, err := run(t, srv, "", "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.HasPrefix(out, "✓ catalog") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestConfigShowHidesToken(t *testing.T) {
	out, err := run(t, nil, "", "config", "show", "--token", "s3cret")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "s3cret") {
		t.Errorf("token printed:\n%s", out)
	}
	if !strings.Contains(out, "<set (6 chars)>") {
		t.Errorf("token state missing:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupview", "config")
	answers := strings.Join([]string{
		"http://catalog.example:8000/api/v1", // API URL
		"tok",                                // token
		"100",                                // group page size
		"",                                   // file page size (default)
		"512",                                // thumbnail size
		"WEBP",                               // format
		"",                                   // cache
		"n",                                  // proxy
	}, "\n") + "\n"

	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvAPIToken, "")
	t.Setenv(config.EnvCachePath, "")
	root := NewRootCmd()
	AddCommands(root)
	root.SetArgs([]string{"--config", path, "config", "init"})
	root.SetIn(strings.NewReader(answers))
	root.SetOut(io.Discard)
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://catalog.example:8000/api/v1" || cfg.APIToken != "tok" {
		t.Errorf("server settings = %q %q", cfg.APIBaseURL, cfg.APIToken)
	}
	if cfg.GroupPageSize != 100 || cfg.FilePageSize != config.New().FilePageSize {
		t.Errorf("page sizes = %d %d", cfg.GroupPageSize, cfg.FilePageSize)
	}
	if cfg.ThumbnailMaxDimension != 512 || cfg.ThumbnailFormat != "webp" {
		t.Errorf("thumbnail settings = %d %q", cfg.ThumbnailMaxDimension, cfg.ThumbnailFormat)
	}
}

func TestConfigInitRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	root := NewRootCmd()
	AddCommands(root)
	root.SetArgs([]string{"--config", path, "config", "init"})
	root.SetIn(strings.NewReader("\n\n\n\n\ngif\n\nn\n"))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil {
		t.Fatal("config init accepted thumbnail format gif")
	}
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	tests := []struct {
		path  []string
		flags []string
	}{
		{[]string{"browse"}, []string{"no-thumbnails"}},
		{[]string{"groups", "list"}, []string{"limit", "all", "json"}},
		{[]string{"groups", "files"}, []string{"limit", "all", "json"}},
		{[]string{"thumbs", "prefetch"}, []string{"limit", "load-workers"}},
		{[]string{"thumbs", "status"}, []string{"json"}},
		{[]string{"thumbs", "get"}, []string{"output"}},
		{[]string{"thumbs", "cleanup"}, []string{"delay"}},
		{[]string{"health"}, []string{"json"}},
		{[]string{"config", "init"}, []string{"force"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.path, " "), func(t *testing.T) {
			cmd, _, err := root.Find(tt.path)
			if err != nil || cmd == root {
				t.Fatalf("command not found: %v", err)
			}
			if cmd.Short == "" {
				t.Error("Short description is empty")
			}
			for _, f := range tt.flags {
				if cmd.Flags().Lookup(f) == nil {
					t.Errorf("--%s flag not found", f)
				}
			}
		})
	}
}
