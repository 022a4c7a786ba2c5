// Package tui is the interactive terminal browser: a groups pane and a files
// pane, both virtualized, with thumbnail status badges fed by the session's
// visibility trigger.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/session"
	"github.com/dedupfs/dupview/internal/state"
	"github.com/dedupfs/dupview/internal/thumbs"
	"github.com/dedupfs/dupview/internal/viewport"
)

type pane int

const (
	paneGroups pane = iota
	paneFiles
)

// Rows taken by borders, titles, the detail line and the status bar.
const chromeRows = 6

// Messages
type (
	busMsg          struct{ ev events.Event }
	busClosedMsg    struct{}
	groupsLoadedMsg struct{ ok bool }
	filesLoadedMsg  struct{ ok bool }
)

// Model is the bubbletea model of the browser.
type Model struct {
	sess    *session.Session
	resolve func(string) string
	events  <-chan events.Event

	keys    KeyMap
	help    help.Model
	spinner spinner.Model

	focus  pane
	groups viewport.Scroller
	files  viewport.Scroller
	width  int
	height int

	// render numbers the current file list rendering; placeholder element
	// IDs include it so a reset list observes fresh elements.
	render int
	placed map[string]struct{}

	status    string
	statusErr bool
	quitting  bool
}

// Option customizes a Model.
type Option func(*Model)

// WithURLResolver turns server content references into absolute URLs for
// display.
func WithURLResolver(fn func(string) string) Option {
	return func(m *Model) { m.resolve = fn }
}

// New creates the browser over sess. The model subscribes to the session's
// event bus immediately.
func New(sess *session.Session, opts ...Option) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Spinner.FPS = constants.SpinnerInterval
	sp.Style = pendingStyle

	m := Model{
		sess:    sess,
		resolve: func(s string) string { return s },
		events:  sess.EventBus().SubscribeAll(),
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		placed:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts the browser and blocks until the user quits.
func Run(sess *session.Session, opts ...Option) error {
	m := New(sess, opts...)
	defer sess.EventBus().UnsubscribeAll(m.events)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), m.loadGroups())
}

func (m Model) listen() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return busMsg{ev: ev}
	}
}

func (m Model) loadGroups() tea.Cmd {
	sess := m.sess
	return func() tea.Msg { return groupsLoadedMsg{ok: sess.LoadMoreGroups()} }
}

func (m Model) loadFiles() tea.Cmd {
	sess := m.sess
	return func() tea.Msg { return filesLoadedMsg{ok: sess.LoadMoreFiles()} }
}

func (m Model) listHeight() int {
	h := m.height - chromeRows
	if m.help.ShowAll {
		h -= len(m.keys.FullHelp())
	} else {
		h--
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.resize()
		cmd := m.refreshFiles()
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case groupsLoadedMsg:
		groups := m.sess.Groups()
		if err := groups.Err(); err != nil {
			m.setError(fmt.Sprintf("loading groups: %v", err))
		}
		// Show the first group's files without waiting for the user.
		if m.sess.Selection().GroupKey() == "" {
			if g, ok := groups.At(m.groups.Cursor); ok {
				m.sess.SelectGroup(g.GroupKey)
			}
		}
		m.groups.Clamp(groups.Len())
		cmd := m.maybeLoadGroups()
		return m, cmd

	case filesLoadedMsg:
		if err := m.sess.Files().Err(); err != nil {
			m.setError(fmt.Sprintf("loading files: %v", err))
		}
		cmd := m.refreshFiles()
		return m, cmd

	case busMsg:
		cmd := m.handleEvent(msg.ev)
		return m, tea.Batch(cmd, m.listen())

	case busClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	switch e := ev.(type) {
	case *state.SelectionChangedEvent:
		m.render++
		m.placed = make(map[string]struct{})
		m.sess.Trigger().Reset()
		m.files = viewport.Scroller{Height: m.listHeight()}
		return nil

	case *state.ListChangedEvent:
		if e.Source == state.SourceGroups {
			m.groups.Clamp(e.Count)
			return nil
		}
		if e.Scope != m.sess.Selection().GroupKey() {
			return nil
		}
		m.files.Clamp(e.Count)
		return m.refreshFiles()

	case *state.ListErrorEvent:
		m.setError(fmt.Sprintf("loading %s: %v", e.Source, e.Error))

	case *events.LogEvent:
		if e.Level >= events.ErrorLevel {
			m.setError(e.Message)
		}

	case *events.IdleEvent:
		if !m.statusErr {
			m.status = fmt.Sprintf("thumbnails settled (%d this session)", e.Completed)
		}
	}
	// Thumbnail updates need no bookkeeping; View reads the cache.
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	h := m.listHeight()
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		cmd := m.refreshFiles()
		return m, cmd
	case key.Matches(msg, m.keys.Switch):
		if m.focus == paneGroups {
			m.focus = paneFiles
		} else {
			m.focus = paneGroups
		}
		return m, nil
	case key.Matches(msg, m.keys.Up):
		cmd := m.move(-1)
		return m, cmd
	case key.Matches(msg, m.keys.Down):
		cmd := m.move(1)
		return m, cmd
	case key.Matches(msg, m.keys.PageUp):
		cmd := m.move(-h)
		return m, cmd
	case key.Matches(msg, m.keys.PageDown):
		cmd := m.move(h)
		return m, cmd
	case key.Matches(msg, m.keys.Home):
		cmd := m.move(-m.cursor())
		return m, cmd
	case key.Matches(msg, m.keys.End):
		cmd := m.move(m.count() - 1 - m.cursor())
		return m, cmd
	case key.Matches(msg, m.keys.Open):
		m.openCurrent()
		return m, nil
	case key.Matches(msg, m.keys.Retry):
		m.retryCurrent()
		return m, nil
	case key.Matches(msg, m.keys.Reload):
		cmd := m.reload()
		return m, cmd
	}
	return m, nil
}

func (m *Model) resize() {
	h := m.listHeight()
	m.groups.Resize(h, m.sess.Groups().Len())
	m.files.Resize(h, m.sess.Files().Len())
}

func (m Model) cursor() int {
	if m.focus == paneGroups {
		return m.groups.Cursor
	}
	return m.files.Cursor
}

func (m Model) count() int {
	if m.focus == paneGroups {
		return m.sess.Groups().Len()
	}
	return m.sess.Files().Len()
}

// move shifts the cursor of the focused pane. Moving in the groups pane
// selects the group under the cursor.
func (m *Model) move(delta int) tea.Cmd {
	if m.focus == paneGroups {
		groups := m.sess.Groups()
		before := m.groups.Cursor
		m.groups.Move(delta, groups.Len())
		if m.groups.Cursor != before {
			if g, ok := groups.At(m.groups.Cursor); ok {
				m.sess.SelectGroup(g.GroupKey)
			}
		}
		return m.maybeLoadGroups()
	}
	m.files.Move(delta, m.sess.Files().Len())
	return m.refreshFiles()
}

func (m *Model) maybeLoadGroups() tea.Cmd {
	groups := m.sess.Groups()
	virt := m.sess.Virtualizer()
	if virt.ShouldLoadMore(m.groups.ScrollTop, m.listHeight(), 1, groups.Len(), groups.HasMore(), groups.Loading()) {
		return m.loadGroups()
	}
	return nil
}

// refreshFiles places placeholders for the rendered file rows, fires the
// visibility trigger and asks for the next page near the end of the list.
func (m *Model) refreshFiles() tea.Cmd {
	files := m.sess.Files()
	n := files.Len()
	h := m.listHeight()
	virt := m.sess.Virtualizer()
	trigger := m.sess.Trigger()
	cache := m.sess.Cache()

	rendered := virt.Window(m.files.ScrollTop, h, 1, n)
	positions := make(map[string]int, rendered.Len())
	for row := rendered.Start; row < rendered.End; row++ {
		f, ok := files.At(row)
		if !ok {
			continue
		}
		el := m.elementID(f.FileID)
		positions[el] = row
		if _, seen := m.placed[el]; seen {
			continue
		}
		m.placed[el] = struct{}{}
		if !cache.Status(f.FileID).Settled() {
			trigger.Observe(el, f.FileID)
		}
	}

	visible := m.visibleRows(m.files.ScrollTop, h, n)
	trigger.Update(visible, constants.VisibilityMarginRows, positions)

	if virt.ShouldLoadMore(m.files.ScrollTop, h, 1, n, files.HasMore(), files.Loading()) {
		return m.loadFiles()
	}
	return nil
}

func (m Model) elementID(fileID int64) string {
	return fmt.Sprintf("%d/%d", m.render, fileID)
}

func (m *Model) openCurrent() {
	if m.focus != paneFiles {
		m.focus = paneFiles
		return
	}
	f, ok := m.sess.Files().At(m.files.Cursor)
	if !ok {
		return
	}
	entry, ok := m.sess.Cache().Get(f.FileID)
	switch {
	case !ok:
		m.sess.RequestThumbnail(f.FileID)
		m.setStatus(fmt.Sprintf("thumbnail for file %d requested", f.FileID))
	case entry.Status == thumbs.StatusReady:
		m.setStatus(m.resolve(entry.ContentURL))
	case entry.Status == thumbs.StatusError:
		m.setError(fmt.Sprintf("file %d: %s (r to retry)", f.FileID, entry.Message))
	default:
		m.setStatus(fmt.Sprintf("file %d: thumbnail %s", f.FileID, entry.Status))
	}
}

func (m *Model) retryCurrent() {
	if m.focus != paneFiles {
		return
	}
	f, ok := m.sess.Files().At(m.files.Cursor)
	if !ok {
		return
	}
	if m.sess.Cache().Status(f.FileID) != thumbs.StatusError {
		m.setStatus("nothing to retry")
		return
	}
	if m.sess.RetryThumbnail(f.FileID) {
		m.setStatus(fmt.Sprintf("retrying thumbnail for file %d", f.FileID))
	}
}

func (m *Model) reload() tea.Cmd {
	sess := m.sess
	m.statusErr = false
	if m.focus == paneGroups {
		m.groups = viewport.Scroller{Height: m.listHeight()}
		m.setStatus("reloading groups")
		return func() tea.Msg { return groupsLoadedMsg{ok: sess.ReloadGroups()} }
	}
	m.setStatus("reloading files")
	sess.ReloadFiles()
	return nil
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(s string) {
	m.status = s
	m.statusErr = true
}
