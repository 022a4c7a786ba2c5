// Package viewport decides which rows of a very long list need rendering and
// when rendered thumbnail placeholders become visible.
package viewport

import (
	"github.com/dedupfs/dupview/internal/constants"
)

// Window is the materialized slice of a list: rows [Start, End).
// TotalHeight is the height of the whole list, independent of the window,
// and OffsetTop is where row Start sits.
type Window struct {
	Start       int
	End         int
	TotalHeight int
	OffsetTop   int
}

// Len returns the number of materialized rows.
func (w Window) Len() int {
	return w.End - w.Start
}

// Contains reports whether row index i is materialized.
func (w Window) Contains(i int) bool {
	return i >= w.Start && i < w.End
}

// Expand grows the window by margin rows on both sides, clamped to [0, count).
func (w Window) Expand(margin, count int) Window {
	out := w
	out.Start -= margin
	if out.Start < 0 {
		out.Start = 0
	}
	out.End += margin
	if out.End > count {
		out.End = count
	}
	return out
}

// Virtualizer converts scroll geometry into a Window. It is stateless: the
// same inputs always produce the same window.
type Virtualizer struct {
	// Overscan is the number of extra rows kept above and below the viewport.
	Overscan int
	// LoadMoreThreshold is the distance to the bottom, in rows, at which the
	// next page should be requested.
	LoadMoreThreshold float64
}

// NewVirtualizer returns a virtualizer with the default overscan (4 rows) and
// load-more threshold (1.5 rows).
func NewVirtualizer() Virtualizer {
	return Virtualizer{
		Overscan:          constants.ViewportOverscan,
		LoadMoreThreshold: constants.LoadMoreThresholdRows,
	}
}

// Window returns the rows intersecting
// [scrollTop - overscan*rowHeight, scrollTop + viewportHeight + overscan*rowHeight].
func (v Virtualizer) Window(scrollTop, viewportHeight, rowHeight, itemCount int) Window {
	if rowHeight <= 0 || itemCount <= 0 {
		return Window{}
	}
	if scrollTop < 0 {
		scrollTop = 0
	}
	if viewportHeight < 0 {
		viewportHeight = 0
	}

	pad := v.Overscan * rowHeight
	top := scrollTop - pad
	if top < 0 {
		top = 0
	}
	bottom := scrollTop + viewportHeight + pad

	start := top / rowHeight
	end := (bottom + rowHeight - 1) / rowHeight
	if end > itemCount {
		end = itemCount
	}
	if start > end {
		start = end
	}

	return Window{
		Start:       start,
		End:         end,
		TotalHeight: itemCount * rowHeight,
		OffsetTop:   start * rowHeight,
	}
}

// NearEnd reports whether the bottom of the viewport is within the
// load-more threshold of the end of the list.
func (v Virtualizer) NearEnd(scrollTop, viewportHeight, rowHeight, itemCount int) bool {
	if rowHeight <= 0 {
		return false
	}
	remaining := float64(itemCount*rowHeight - (scrollTop + viewportHeight))
	return remaining <= v.LoadMoreThreshold*float64(rowHeight)
}

// ShouldLoadMore applies the infinite-scroll policy: near the end, another
// page exists, and no page request is outstanding.
func (v Virtualizer) ShouldLoadMore(scrollTop, viewportHeight, rowHeight, itemCount int, hasMore, loading bool) bool {
	return hasMore && !loading && v.NearEnd(scrollTop, viewportHeight, rowHeight, itemCount)
}
