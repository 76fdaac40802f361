package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FSNotifyWatcher implements Watcher using fsnotify, recursively
// watching every subdirectory of each added root (fsnotify itself is
// not recursive).
type FSNotifyWatcher struct {
	fsw       *fsnotify.Watcher
	debouncer *debouncer
	log       zerolog.Logger

	eventChan chan Event
	errorChan chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[string]bool
}

// NewFSNotifyWatcher creates an fsnotify-backed Watcher with cfg's
// debounce settings.
func NewFSNotifyWatcher(cfg Config, log zerolog.Logger) (*FSNotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FSNotifyWatcher{
		fsw:       fsw,
		debouncer: newDebouncer(cfg),
		log:       log,
		eventChan: make(chan Event, cfg.QueueCapacity),
		errorChan: make(chan error, 16),
		watched:   make(map[string]bool),
	}, nil
}

// Start begins watching paths and launches the event-loop and
// debounce-drain goroutines.
func (w *FSNotifyWatcher) Start(ctx context.Context, paths []string) error {
	w.mu.Lock()
	w.ctx, w.cancel = context.WithCancel(ctx)
	for _, p := range paths {
		if err := w.addRecursive(p); err != nil {
			w.log.Warn().Err(err).Str("path", p).Msg("watcher: failed to add path")
			continue
		}
		w.watched[p] = true
	}
	w.mu.Unlock()

	w.wg.Add(2)
	go w.watchLoop()
	go w.drainDebounced()
	w.log.Info().Int("paths", len(paths)).Msg("watcher: started")
	return nil
}

// Events implements Watcher.
func (w *FSNotifyWatcher) Events() <-chan Event { return w.eventChan }

// Errors implements Watcher.
func (w *FSNotifyWatcher) Errors() <-chan error { return w.errorChan }

// Add implements Watcher.
func (w *FSNotifyWatcher) Add(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		if err := w.addRecursive(p); err != nil {
			return fmt.Errorf("add path %s: %w", p, err)
		}
		w.watched[p] = true
	}
	return nil
}

// Remove implements Watcher.
func (w *FSNotifyWatcher) Remove(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		if err := w.fsw.Remove(p); err != nil {
			w.log.Warn().Err(err).Str("path", p).Msg("watcher: failed to remove path")
		}
		delete(w.watched, p)
	}
	return nil
}

// Close implements Watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.debouncer.Close()
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.eventChan)
	close(w.errorChan)
	return err
}

func (w *FSNotifyWatcher) addRecursive(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return fmt.Errorf("add root %s: %w", root, err)
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && path != root {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("watcher: failed to add subdirectory")
			}
		}
		return nil
	})
}

func (w *FSNotifyWatcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if converted := convertEvent(ev); converted != nil {
				w.debouncer.Add(*converted)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errorChan <- err:
			default:
				w.log.Warn().Err(err).Msg("watcher: error channel full, dropping")
			}
		}
	}
}

func (w *FSNotifyWatcher) drainDebounced() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.debouncer.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				select {
				case w.eventChan <- ev:
				case <-w.ctx.Done():
					return
				}
			}
		}
	}
}

func convertEvent(ev fsnotify.Event) *Event {
	var t EventType
	switch {
	case ev.Has(fsnotify.Create):
		t = EventCreate
	case ev.Has(fsnotify.Write):
		t = EventWrite
	case ev.Has(fsnotify.Remove):
		t = EventRemove
	case ev.Has(fsnotify.Rename):
		t = EventRename
	case ev.Has(fsnotify.Chmod):
		t = EventChmod
	default:
		return nil
	}
	return &Event{Type: t, Path: ev.Name, Timestamp: time.Now()}
}

var _ Watcher = (*FSNotifyWatcher)(nil)
