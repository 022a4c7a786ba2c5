package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/thumbs"
	"github.com/dedupfs/dupview/internal/util/sanitize"
	"github.com/dedupfs/dupview/internal/viewport"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "starting…"
	}

	h := m.listHeight()
	leftWidth := m.width * 2 / 5
	rightWidth := m.width - leftWidth

	left := m.renderGroups(leftWidth, h)
	right := m.renderFiles(rightWidth, h)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.renderStatus(),
		m.help.View(m.keys),
	)
}

// visibleRows is the virtualizer's window for a pane clipped to the rows that
// fit on screen; the overscan rows stay materialized but are not drawn.
func (m Model) visibleRows(scrollTop, height, count int) viewport.Window {
	win := m.sess.Virtualizer().Window(scrollTop, height, 1, count)
	win.Start = max(win.Start, scrollTop)
	win.End = min(win.End, scrollTop+height)
	if win.Start > win.End {
		win.Start = win.End
	}
	win.OffsetTop = win.Start
	return win
}

// paneStyle sizes a pane; width includes the border.
func (m Model) paneStyle(p pane, width int) lipgloss.Style {
	style := paneInactive
	if m.focus == p {
		style = paneActive
	}
	return style.Width(width - 2)
}

func (m Model) renderGroups(width, height int) string {
	groups := m.sess.Groups()
	inner := width - 4

	title := fmt.Sprintf("Groups (%s)", countLabel(groups.Len(), groups.HasMore()))
	if groups.Loading() {
		title += " " + m.spinner.View()
	}

	lines := []string{titleStyle.Render(fit(title, inner))}
	win := m.visibleRows(m.groups.ScrollTop, height, groups.Len())
	rows := groups.Slice(win.Start, win.End)
	for i, g := range rows {
		line := fit(formatGroupRow(g, inner), inner)
		if win.Start+i == m.groups.Cursor {
			line = cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(rows) == 0 {
		switch {
		case groups.Err() != nil:
			lines = append(lines, errorStyle.Render(fit("could not load groups (R to retry)", inner)))
		case groups.Loaded():
			lines = append(lines, mutedStyle.Render("no duplicate groups"))
		}
	}
	lines = padLines(lines, height+1)

	detail := ""
	if g, ok := groups.At(m.groups.Cursor); ok {
		detail = groupDetail(g)
	}
	lines = append(lines, mutedStyle.Render(fit(detail, inner)))

	return m.paneStyle(paneGroups, width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderFiles(width, height int) string {
	files := m.sess.Files()
	cache := m.sess.Cache()
	inner := width - 4

	groupKey := m.sess.Selection().GroupKey()
	title := "Files"
	if groupKey != "" {
		title = fmt.Sprintf("Files · %s (%s)", sanitize.DisplayText(groupKey), countLabel(files.Len(), files.HasMore()))
	}
	if files.Loading() {
		title += " " + m.spinner.View()
	}

	lines := []string{titleStyle.Render(fit(title, inner))}
	win := m.visibleRows(m.files.ScrollTop, height, files.Len())
	rows := files.Slice(win.Start, win.End)
	for i, f := range rows {
		entry, _ := cache.Get(f.FileID)
		mark := badge(entry.Status)
		line := mark + " " + fit(formatFileRow(f, inner-2), inner-2)
		if win.Start+i == m.files.Cursor && m.focus == paneFiles {
			line = cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(rows) == 0 {
		switch {
		case groupKey == "":
			lines = append(lines, mutedStyle.Render("select a group"))
		case files.Err() != nil:
			lines = append(lines, errorStyle.Render(fit("could not load files (R to retry)", inner)))
		case files.Loaded():
			lines = append(lines, mutedStyle.Render("no files"))
		}
	}
	lines = padLines(lines, height+1)

	detail := ""
	if f, ok := files.At(m.files.Cursor); ok {
		entry, _ := cache.Get(f.FileID)
		detail = fileDetail(f, entry)
	}
	lines = append(lines, mutedStyle.Render(fit(detail, inner)))

	return m.paneStyle(paneFiles, width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderStatus() string {
	stats := m.sess.Scheduler().Stats()
	counts := m.sess.Cache().Counts()
	summary := fmt.Sprintf("thumbs %d running · %d queued · %d ready · %d failed",
		stats.Running, stats.Queued, counts[thumbs.StatusReady], counts[thumbs.StatusError])

	msg := m.status
	if msg != "" {
		if m.statusErr {
			msg = errorStyle.Render(msg)
		}
		summary += "  │  " + msg
	}
	return statusBarStyle.Render(fit(summary, m.width-2))
}

// badge renders the thumbnail state of a row in one cell.
func badge(status thumbs.Status) string {
	switch status {
	case thumbs.StatusReady:
		return readyStyle.Render("✓")
	case thumbs.StatusError:
		return errorStyle.Render("✗")
	case thumbs.StatusQueued:
		return mutedStyle.Render("·")
	case thumbs.StatusRetrying:
		return pendingStyle.Render("↻")
	case thumbs.StatusRequesting:
		return pendingStyle.Render("↑")
	case thumbs.StatusRendering:
		return pendingStyle.Render("◌")
	}
	return " "
}

func formatGroupRow(g models.Group, width int) string {
	stats := fmt.Sprintf("%3d× %8s", g.FileCount, humanize.Bytes(uint64(max(g.DuplicateWasteBytes, 0))))
	rest := width - runewidth.StringWidth(stats) - 1
	if rest <= 0 {
		return stats
	}
	return stats + " " + truncateLeft(sanitize.DisplayText(g.GroupKey), rest)
}

func formatFileRow(f models.FileEntry, width int) string {
	size := fmt.Sprintf("%8s", humanize.Bytes(uint64(max(f.SizeBytes, 0))))
	path := sanitize.DisplayText(f.RelativePath)
	if f.LibraryName != "" {
		path = sanitize.DisplayText(f.LibraryName) + ":" + path
	}
	rest := width - runewidth.StringWidth(size) - 1
	if rest <= 0 {
		return size
	}
	return size + " " + truncateLeft(path, rest)
}

func groupDetail(g models.Group) string {
	parts := []string{fmt.Sprintf("total %s", humanize.Bytes(uint64(max(g.TotalSizeBytes, 0))))}
	if g.HashAlgorithm != "" && g.ContentHashHex != "" {
		hash := g.ContentHashHex
		if len(hash) > 12 {
			hash = hash[:12]
		}
		parts = append(parts, g.HashAlgorithm+":"+hash)
	}
	if g.SampleFileID != 0 {
		parts = append(parts, fmt.Sprintf("sample #%d", g.SampleFileID))
	}
	return strings.Join(parts, "  ")
}

func fileDetail(f models.FileEntry, entry thumbs.Entry) string {
	parts := []string{fmt.Sprintf("#%d", f.FileID)}
	if f.MtimeNs != 0 {
		parts = append(parts, "modified "+humanize.Time(time.Unix(0, f.MtimeNs)))
	}
	if f.HashedAt != nil {
		parts = append(parts, "hashed "+humanize.Time(*f.HashedAt))
	}
	switch entry.Status {
	case "":
	case thumbs.StatusError:
		parts = append(parts, "thumbnail: "+sanitize.DisplayText(entry.Message))
	default:
		parts = append(parts, "thumbnail: "+string(entry.Status))
	}
	return strings.Join(parts, "  ")
}

func countLabel(n int, more bool) string {
	label := humanize.Comma(int64(n))
	if more {
		label += "+"
	}
	return label
}

// fit truncates s to width cells and pads it to exactly width.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

// truncateLeft keeps the end of s, which is the informative part of paths
// and group keys.
func truncateLeft(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	runes := []rune(s)
	w := 0
	i := len(runes)
	for i > 0 {
		rw := runewidth.RuneWidth(runes[i-1])
		if w+rw > width-1 {
			break
		}
		w += rw
		i--
	}
	return "…" + string(runes[i:])
}

func padLines(lines []string, n int) []string {
	for len(lines) < n {
		lines = append(lines, "")
	}
	return lines
}
