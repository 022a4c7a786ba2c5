package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/session"
	"github.com/dedupfs/dupview/internal/thumbs"
)

// stubBackend serves n groups of filesPer files and renders thumbnails
// immediately.
type stubBackend struct {
	groups   int
	filesPer int
}

func page(cursor *string, limit, total int) (start, end int, next *string) {
	if cursor != nil {
		start, _ = strconv.Atoi(*cursor)
	}
	end = min(start+limit, total)
	if end < total {
		c := strconv.Itoa(end)
		next = &c
	}
	return start, end, next
}

func (b stubBackend) ListGroups(ctx context.Context, cursor *string, limit int) (*models.GroupPage, error) {
	start, end, next := page(cursor, limit, b.groups)
	p := &models.GroupPage{NextCursor: next}
	for i := start; i < end; i++ {
		p.Items = append(p.Items, models.Group{
			GroupKey:            fmt.Sprintf("g%d", i),
			FileCount:           b.filesPer,
			DuplicateWasteBytes: 2048,
		})
	}
	return p, nil
}

func (b stubBackend) ListGroupFiles(ctx context.Context, groupKey string, cursor *string, limit int) (*models.FilePage, error) {
	var g int
	fmt.Sscanf(groupKey, "g%d", &g)
	start, end, next := page(cursor, limit, b.filesPer)
	p := &models.FilePage{NextCursor: next}
	for i := start; i < end; i++ {
		p.Items = append(p.Items, models.FileEntry{
			FileID:       int64(g*1000 + i + 1),
			LibraryName:  "photos",
			RelativePath: fmt.Sprintf("%s/img-%d.jpg", groupKey, i),
			SizeBytes:    1024,
		})
	}
	return p, nil
}

func (b stubBackend) RequestThumbnail(ctx context.Context, req models.ThumbnailRequest) (*models.Thumbnail, error) {
	url := fmt.Sprintf("/thumbs/%d", req.FileID)
	return &models.Thumbnail{ThumbKey: strconv.FormatInt(req.FileID, 10), Status: models.ThumbnailReady, ContentURL: &url}, nil
}

func (b stubBackend) GetThumbnail(ctx context.Context, thumbKey string) (*models.Thumbnail, error) {
	return nil, fmt.Errorf("unexpected poll of %s", thumbKey)
}

func newTestModel(t *testing.T, thumbnails bool) (Model, *session.Session) {
	t.Helper()
	cfg := config.New()
	cfg.Thumbnails = thumbnails
	cfg.GroupPageSize = 50
	cfg.FilePageSize = 50
	sess, err := session.New(cfg, stubBackend{groups: 30, filesPer: 40}, session.Options{})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	m := New(sess)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, m.loadGroups()())
	sess.Selection().Wait()
	m = update(t, m, filesLoadedMsg{ok: true})
	return m, sess
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model
}

func TestModelShowsFirstGroup(t *testing.T) {
	m, sess := newTestModel(t, false)

	if got := sess.Selection().GroupKey(); got != "g0" {
		t.Fatalf("selected group = %q, want g0", got)
	}
	if got := sess.Files().Len(); got != 40 {
		t.Fatalf("files loaded = %d, want 40", got)
	}

	view := m.View()
	for _, want := range []string{"Groups (30)", "g0", "photos:g0/img-0.jpg", "2.0 kB"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if sess.Scheduler().Stats().Total() != 0 {
		t.Errorf("thumbnails disabled but scheduler ran")
	}
}

func TestModelGroupNavigationSelects(t *testing.T) {
	m, sess := newTestModel(t, false)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if got := sess.Selection().GroupKey(); got != "g2" {
		t.Fatalf("selected group = %q, want g2", got)
	}
	sess.Selection().Wait()
	m = update(t, m, filesLoadedMsg{ok: true})
	if !strings.Contains(m.View(), "photos:g2/img-0.jpg") {
		t.Errorf("view does not show g2 files")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != paneFiles {
		t.Fatalf("focus = %v, want files", m.focus)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	if m.files.Cursor != 39 {
		t.Errorf("cursor after End = %d, want 39", m.files.Cursor)
	}
	if got := sess.Selection().GroupKey(); got != "g2" {
		t.Errorf("moving in files pane changed selection to %q", got)
	}
}

func TestModelRequestsVisibleThumbnails(t *testing.T) {
	m, sess := newTestModel(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.ThumbnailsIdle(ctx); err != nil {
		t.Fatalf("thumbnails did not settle: %v", err)
	}

	// Only rows within the visible window plus margin are requested.
	h := m.listHeight()
	counts := sess.Cache().Counts()
	if counts[thumbs.StatusReady] == 0 || counts[thumbs.StatusReady] >= 40 {
		t.Fatalf("ready thumbnails = %d, want some but not all of 40 (height %d)", counts[thumbs.StatusReady], h)
	}
	if !strings.Contains(m.View(), "✓") {
		t.Errorf("view has no ready badge")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.status != "/thumbs/1" {
		t.Errorf("status after open = %q, want /thumbs/1", m.status)
	}
}

func TestModelQuit(t *testing.T) {
	m, _ := newTestModel(t, false)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if v := next.View(); v != "" {
		t.Errorf("view after quit = %q", v)
	}
}

func TestModelShowsLoggedErrors(t *testing.T) {
	m, _ := newTestModel(t, false)

	info := &events.LogEvent{BaseEvent: events.BaseEvent{EventType: events.EventLog}, Level: events.InfoLevel, Message: "quiet"}
	m = update(t, m, busMsg{ev: info})
	if strings.Contains(m.View(), "quiet") {
		t.Error("info log shown in status line")
	}

	failed := &events.LogEvent{BaseEvent: events.BaseEvent{EventType: events.EventLog}, Level: events.ErrorLevel, Message: "thumbnail run for file 3 panicked"}
	m = update(t, m, busMsg{ev: failed})
	if !m.statusErr || !strings.Contains(m.View(), "panicked") {
		t.Errorf("error log not shown, status = %q", m.status)
	}
}

func TestViewDrawsOnlyVisibleRows(t *testing.T) {
	m, _ := newTestModel(t, false)
	m.files.ScrollTop = 20
	m.files.Cursor = 20

	win := m.visibleRows(m.files.ScrollTop, m.listHeight(), 40)
	if win.Start != 20 || win.End != min(40, 20+m.listHeight()) {
		t.Fatalf("visibleRows = %+v", win)
	}
	// overscan rows above the viewport are materialized but never drawn
	if full := m.sess.Virtualizer().Window(20, m.listHeight(), 1, 40); full.Start >= win.Start {
		t.Fatalf("virtualizer window %+v has no overscan", full)
	}

	view := m.View()
	if !strings.Contains(view, "img-20.jpg") {
		t.Error("first visible row missing")
	}
	for _, hidden := range []string{"img-0.jpg", "img-19.jpg"} {
		if strings.Contains(view, hidden) {
			t.Errorf("row %s above the viewport was drawn", hidden)
		}
	}

	if empty := m.visibleRows(0, 10, 0); empty.Len() != 0 {
		t.Errorf("visibleRows on empty list = %+v", empty)
	}
}

func TestFormatRows(t *testing.T) {
	g := models.Group{GroupKey: "sha256:abcdef", FileCount: 3, DuplicateWasteBytes: 2_000_000}
	if got := formatGroupRow(g, 40); got != "  3×   2.0 MB sha256:abcdef" {
		t.Errorf("formatGroupRow = %q", got)
	}

	f := models.FileEntry{LibraryName: "lib", RelativePath: "a/very/long/path/name.jpg", SizeBytes: 500}
	got := formatFileRow(f, 20)
	if !strings.HasPrefix(got, "   500 B …") || !strings.HasSuffix(got, "name.jpg") {
		t.Errorf("formatFileRow = %q", got)
	}
}

func TestTextHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"fit pads", fit("ab", 4), "ab  "},
		{"fit truncates", fit("abcdef", 4), "abc…"},
		{"fit zero", fit("abc", 0), ""},
		{"truncateLeft short", truncateLeft("abc", 5), "abc"},
		{"truncateLeft keeps tail", truncateLeft("abcdefgh", 5), "…efgh"},
		{"truncateLeft tiny", truncateLeft("abcdefgh", 1), "…"},
		{"countLabel", countLabel(1200, false), "1,200"},
		{"countLabel more", countLabel(200, true), "200+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
