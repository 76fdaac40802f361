// Package watcher adapts an OS filesystem-notification facility into
// the core's filesystem-event interface (§6): a stream of changed
// paths. Only the fsnotify backend is implemented -- the filesystem-
// event source itself is an out-of-scope external collaborator, so a
// single concrete backend is enough to exercise the interface.
package watcher

import (
	"context"
	"time"
)

// EventType classifies a raw filesystem change.
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
	EventChmod
)

// Event is a single filesystem change, already debounced.
type Event struct {
	Type      EventType
	Path      string
	OldPath   string // previous path of a rename; FSNotifyWatcher leaves it empty
	Timestamp time.Time
}

// Watcher watches a set of root paths and emits debounced Events.
type Watcher interface {
	Start(ctx context.Context, paths []string) error
	Events() <-chan Event
	Errors() <-chan error
	Add(paths ...string) error
	Remove(paths ...string) error
	Close() error
}

// Config tunes debouncing and queueing.
type Config struct {
	DebounceDelay    time.Duration
	MaxDebounceDelay time.Duration
	QueueCapacity    int
}

// DefaultConfig returns sensible defaults for an interactive desktop
// workload.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:    200 * time.Millisecond,
		MaxDebounceDelay: 2 * time.Second,
		QueueCapacity:    1024,
	}
}

// Debouncer coalesces bursts of events for the same path into a
// single batch.
type Debouncer interface {
	Add(event Event)
	Events() <-chan []Event
	Close()
}
