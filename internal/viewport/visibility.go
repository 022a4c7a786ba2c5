package viewport

import (
	"sort"
	"sync"
)

// VisibilitySink receives the file ID of a placeholder that became visible.
type VisibilitySink func(fileID int64)

// VisibilityTrigger delivers one-shot "became visible" notifications.
//
// Each rendered placeholder is observed under its own element ID. The first
// Update that finds the element inside the expanded window calls the sink
// once and stops observing that element. A re-render that creates new element
// IDs observes again; rows whose thumbnail is already settled should not be
// observed at all.
type VisibilityTrigger struct {
	sink     VisibilitySink
	observed map[string]int64 // element ID -> file ID
	fired    int
	mu       sync.Mutex
}

// NewVisibilityTrigger creates a trigger that reports to sink.
func NewVisibilityTrigger(sink VisibilitySink) *VisibilityTrigger {
	return &VisibilityTrigger{
		sink:     sink,
		observed: make(map[string]int64),
	}
}

// Observe subscribes one placeholder instance. Observing an element ID that
// is already observed replaces its file ID.
func (t *VisibilityTrigger) Observe(elementID string, fileID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed[elementID] = fileID
}

// Unobserve drops one element without firing.
func (t *VisibilityTrigger) Unobserve(elementID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.observed, elementID)
}

// Observing reports whether elementID is still waiting to become visible.
func (t *VisibilityTrigger) Observing(elementID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[elementID]
	return ok
}

// Update fires every observed element whose row index (from positions) lies
// in visible expanded by margin rows. Fired elements are unobserved. The file
// IDs are returned in row order; the sink is called in the same order,
// outside the trigger's lock.
func (t *VisibilityTrigger) Update(visible Window, margin int, positions map[string]int) []int64 {
	lo := visible.Start - margin
	hi := visible.End + margin

	type hit struct {
		row    int
		fileID int64
	}
	var hits []hit

	t.mu.Lock()
	for elementID, fileID := range t.observed {
		row, ok := positions[elementID]
		if !ok || row < lo || row >= hi {
			continue
		}
		hits = append(hits, hit{row: row, fileID: fileID})
		delete(t.observed, elementID)
	}
	t.fired += len(hits)
	t.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].row < hits[j].row })

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.fileID
		if t.sink != nil {
			t.sink(h.fileID)
		}
	}
	return ids
}

// Reset drops every observation. Called before a full re-render.
func (t *VisibilityTrigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed = make(map[string]int64)
}

// Len returns the number of elements still observed.
func (t *VisibilityTrigger) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observed)
}

// Fired returns the total number of notifications delivered.
func (t *VisibilityTrigger) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
