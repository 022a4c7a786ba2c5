package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/dedupfs/dupview/internal/constants"
)

// PrefetchUI draws one bar per group while thumbnails are prefetched.
type PrefetchUI struct {
	progress    *mpb.Progress
	out         io.Writer
	bars        sync.Map // group key -> *GroupBar
	isTerminal  bool
	totalGroups int
	completed   int32
}

// GroupBar tracks settled thumbnails of one group.
type GroupBar struct {
	bar      *mpb.Bar
	ui       *PrefetchUI
	index    int
	groupKey string
	total    int64
	ready    atomic.Int64
	failed   atomic.Int64
	start    time.Time
	done     atomic.Bool
}

// NewPrefetchUI creates a UI for totalGroups groups on stderr. Without a
// terminal it prints one line per finished group instead of bars.
func NewPrefetchUI(totalGroups int) *PrefetchUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	return newPrefetchUI(totalGroups, os.Stderr, isTerminal)
}

func newPrefetchUI(totalGroups int, out io.Writer, isTerminal bool) *PrefetchUI {
	var p *mpb.Progress
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableANSI(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressUpdateInterval),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &PrefetchUI{
		progress:    p,
		out:         out,
		isTerminal:  isTerminal,
		totalGroups: totalGroups,
	}
}

// AddGroupBar creates the bar of one group. total may be zero until the file
// list is known; see SetTotal.
func (u *PrefetchUI) AddGroupBar(index int, groupKey string, total int64) *GroupBar {
	gb := &GroupBar{
		ui:       u,
		index:    index,
		groupKey: groupKey,
		total:    total,
		start:    time.Now(),
	}
	label := truncateKey(groupKey, 24)

	if u.isTerminal {
		gb.bar = u.progress.New(total,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					base := fmt.Sprintf("[%d/%d] %s", gb.index, u.totalGroups, label)
					if n := gb.failed.Load(); n > 0 {
						return fmt.Sprintf("%s (%d failed)", base, n)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	}

	u.bars.Store(groupKey, gb)
	return gb
}

// Bar returns the bar of groupKey, if any.
func (u *PrefetchUI) Bar(groupKey string) (*GroupBar, bool) {
	v, ok := u.bars.Load(groupKey)
	if !ok {
		return nil, false
	}
	return v.(*GroupBar), true
}

// SetTotal sets the number of thumbnails expected for the group.
func (g *GroupBar) SetTotal(total int64) {
	g.total = total
	if g.bar != nil {
		g.bar.SetTotal(total, false)
	}
}

// Settle records one thumbnail reaching ready (ok) or error.
func (g *GroupBar) Settle(ok bool) {
	if ok {
		g.ready.Add(1)
	} else {
		g.failed.Add(1)
	}
	if g.bar != nil {
		g.bar.Increment()
	}
}

// Counts returns ready and failed thumbnails so far.
func (g *GroupBar) Counts() (ready, failed int64) {
	return g.ready.Load(), g.failed.Load()
}

// Complete marks the group finished and prints a summary line. A non-nil err
// means the group could not be prefetched at all.
func (g *GroupBar) Complete(err error) {
	if !g.done.CompareAndSwap(false, true) {
		return
	}
	elapsed := time.Since(g.start).Round(100 * time.Millisecond)
	ready, failed := g.Counts()

	var msg string
	if err == nil {
		if g.bar != nil {
			g.bar.SetTotal(g.total, true)
		}
		msg = fmt.Sprintf("✓ %s: %d ready, %d failed (%s)\n", g.groupKey, ready, failed, elapsed)
	} else {
		if g.bar != nil {
			g.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", g.groupKey, err)
	}
	fmt.Fprint(g.ui.Writer(), msg)
	atomic.AddInt32(&g.ui.completed, 1)
}

// Wait blocks until all bars complete.
func (u *PrefetchUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that prints above the bars.
func (u *PrefetchUI) Writer() io.Writer {
	if u.isTerminal && u.progress != nil {
		return u.progress
	}
	return u.out
}

// Completed returns the number of finished groups.
func (u *PrefetchUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// IsTerminal reports whether bars are drawn.
func (u *PrefetchUI) IsTerminal() bool {
	return u.isTerminal
}

// truncateKey shortens s to width display cells, keeping the tail that makes
// group keys distinguishable.
func truncateKey(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for i := range runes {
		tail := string(runes[i:])
		if runewidth.StringWidth(tail)+1 <= width {
			return "…" + tail
		}
	}
	return runewidth.Truncate(s, width, "…")
}
