// Package state provides observable state containers for the catalog browser.
// These containers emit events when state changes, allowing any frontend
// (the terminal UI, CLI progress output) to subscribe and redraw.
package state

import (
	"time"

	"github.com/dedupfs/dupview/internal/events"
)

// List sources
const (
	SourceGroups = "groups"
	SourceFiles  = "files"
)

// State event types
const (
	EventListChanged      events.EventType = "list_changed"
	EventListLoading      events.EventType = "list_loading"
	EventListError        events.EventType = "list_error"
	EventSelectionChanged events.EventType = "selection_changed"
)

// ListChangedEvent is published when a list is reset or a page is appended.
// It carries counts only; renderers read the rows they need from the list.
type ListChangedEvent struct {
	events.BaseEvent
	Source   string // "groups" or "files"
	Scope    string // group key for file lists
	Count    int
	Appended int
	HasMore  bool
	Reset    bool
}

// ListLoadingEvent is published when a page request starts or ends.
type ListLoadingEvent struct {
	events.BaseEvent
	Source  string
	Scope   string
	Loading bool
}

// ListErrorEvent is published when a page request fails.
type ListErrorEvent struct {
	events.BaseEvent
	Source string
	Scope  string
	Error  error
}

// SelectionChangedEvent is published when the selected group changes.
type SelectionChangedEvent struct {
	events.BaseEvent
	GroupKey string
	Token    uint64
}

// NewListChangedEvent creates a new ListChangedEvent.
func NewListChangedEvent(source, scope string, count, appended int, hasMore, reset bool) *ListChangedEvent {
	return &ListChangedEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventListChanged,
			Time:      time.Now(),
		},
		Source:   source,
		Scope:    scope,
		Count:    count,
		Appended: appended,
		HasMore:  hasMore,
		Reset:    reset,
	}
}

// NewListLoadingEvent creates a new ListLoadingEvent.
func NewListLoadingEvent(source, scope string, loading bool) *ListLoadingEvent {
	return &ListLoadingEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventListLoading,
			Time:      time.Now(),
		},
		Source:  source,
		Scope:   scope,
		Loading: loading,
	}
}

// NewListErrorEvent creates a new ListErrorEvent.
func NewListErrorEvent(source, scope string, err error) *ListErrorEvent {
	return &ListErrorEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventListError,
			Time:      time.Now(),
		},
		Source: source,
		Scope:  scope,
		Error:  err,
	}
}

// NewSelectionChangedEvent creates a new SelectionChangedEvent.
func NewSelectionChangedEvent(groupKey string, token uint64) *SelectionChangedEvent {
	return &SelectionChangedEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventSelectionChanged,
			Time:      time.Now(),
		},
		GroupKey: groupKey,
		Token:    token,
	}
}
