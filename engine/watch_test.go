package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/business-tech-dev/errthang/scanner"
	"github.com/business-tech-dev/errthang/snapshot"
	"github.com/business-tech-dev/errthang/watcher"
)

func newFakeItem(path string) snapshot.Item {
	return snapshot.Item{Path: path, Name: filepath.Base(path)}
}

type fakeWatcher struct {
	events chan watcher.Event
}

func newFakeWatcher() *fakeWatcher { return &fakeWatcher{events: make(chan watcher.Event, 16)} }

func (f *fakeWatcher) Start(ctx context.Context, paths []string) error { return nil }
func (f *fakeWatcher) Events() <-chan watcher.Event                    { return f.events }
func (f *fakeWatcher) Errors() <-chan error                            { return nil }
func (f *fakeWatcher) Add(paths ...string) error                       { return nil }
func (f *fakeWatcher) Remove(paths ...string) error                    { return nil }
func (f *fakeWatcher) Close() error                                    { close(f.events); return nil }

var _ watcher.Watcher = (*fakeWatcher)(nil)

func TestWatchEventsPutsCreatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	cat := newFakeCatalog()
	e := newTestEngine(t, cat)

	w := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	go e.WatchEvents(ctx, w)

	w.events <- watcher.Event{Type: watcher.EventCreate, Path: path, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		res := e.Search("new", scanner.SortByName, true, 0)
		return res.Total == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
}

func TestWatchEventsRemovesDeletedFile(t *testing.T) {
	cat := newFakeCatalog()
	e := newTestEngine(t, cat)
	e.Put(newFakeItem("/a/gone.txt"))
	require.Equal(t, 1, e.Search("gone", scanner.SortByName, true, 0).Total)

	w := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	go e.WatchEvents(ctx, w)

	w.events <- watcher.Event{Type: watcher.EventRemove, Path: "/a/gone.txt", Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		return e.Search("gone", scanner.SortByName, true, 0).Total == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
}

func TestWatchEventsRenameWithOldPathRemovesAndPuts(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "renamed.txt")
	require.NoError(t, os.WriteFile(newPath, []byte("x"), 0o644))

	cat := newFakeCatalog()
	e := newTestEngine(t, cat)
	e.Put(newFakeItem(filepath.Join(dir, "original.txt")))

	w := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	go e.WatchEvents(ctx, w)

	w.events <- watcher.Event{
		Type:      watcher.EventRename,
		Path:      newPath,
		OldPath:   filepath.Join(dir, "original.txt"),
		Timestamp: time.Now(),
	}

	require.Eventually(t, func() bool {
		return e.Search("renamed", scanner.SortByName, true, 0).Total == 1 &&
			e.Search("original", scanner.SortByName, true, 0).Total == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
}
