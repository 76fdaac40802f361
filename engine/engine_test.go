package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/business-tech-dev/errthang/scanner"
	"github.com/business-tech-dev/errthang/snapshot"
)

type fakeCatalog struct {
	mu    sync.Mutex
	items map[string]snapshot.Item
}

func newFakeCatalog(items ...snapshot.Item) *fakeCatalog {
	f := &fakeCatalog{items: make(map[string]snapshot.Item)}
	for _, it := range items {
		f.items[it.Path] = it
	}
	return f
}

func (f *fakeCatalog) BulkInsert(items []snapshot.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.items[it.Path] = it
	}
	return nil
}

func (f *fakeCatalog) RangeAll() ([]snapshot.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]snapshot.Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeCatalog) Upsert(item snapshot.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Path] = item
	return nil
}

func (f *fakeCatalog) Delete(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, path)
	return nil
}

func (f *fakeCatalog) DeletePrefix(prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := range f.items {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			delete(f.items, p)
		}
	}
	return nil
}

func (f *fakeCatalog) Close() error { return nil }

func newTestEngine(t *testing.T, cat *fakeCatalog) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.bin")
	e := New(cat, path, time.Hour, time.Hour, zerolog.Nop())
	e.ForceRebuild()
	require.Equal(t, StateReady, e.State())
	return e
}

func pathsOf(t *testing.T, e *Engine, res Result) []string {
	t.Helper()
	out := make([]string, 0, len(res.Entries))
	for _, entry := range res.Entries {
		out = append(out, e.Materialize(entry, res.Overlay).Path)
	}
	return out
}

func TestSearchBasicSubstring(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/report.txt", Name: "report.txt"},
		snapshot.Item{Path: "/a/photo.png", Name: "photo.png"},
	)
	e := newTestEngine(t, cat)

	res := e.Search("report", scanner.SortByName, true, 0)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"/a/report.txt"}, pathsOf(t, e, res))
}

func TestSearchOverlayAddVisibleBeforeRebuild(t *testing.T) {
	cat := newFakeCatalog(snapshot.Item{Path: "/a/old.txt", Name: "old.txt"})
	e := newTestEngine(t, cat)

	e.Put(snapshot.Item{Path: "/a/new.txt", Name: "new.txt"})

	res := e.Search("new", scanner.SortByName, true, 0)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"/a/new.txt"}, pathsOf(t, e, res))
}

func TestSearchOverlayMutationOverridesSnapshotValue(t *testing.T) {
	cat := newFakeCatalog(snapshot.Item{Path: "/a/file.txt", Name: "file.txt", Size: 10})
	e := newTestEngine(t, cat)

	e.Put(snapshot.Item{Path: "/a/file.txt", Name: "file.txt", Size: 999})

	res := e.Search("file", scanner.SortByName, true, 0)
	require.Equal(t, 1, res.Total, "the overlay row shadows the snapshot row with the same path")

	var sawOverridden bool
	for _, entry := range res.Entries {
		item := e.Materialize(entry, res.Overlay)
		if item.Size == 999 {
			sawOverridden = true
		}
	}
	require.True(t, sawOverridden)
}

func TestSearchTombstoneHidesSnapshotHit(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/gone.txt", Name: "gone.txt"},
		snapshot.Item{Path: "/a/stays.txt", Name: "stays.txt"},
	)
	e := newTestEngine(t, cat)

	e.Remove("/a/gone.txt")

	res := e.Search("", scanner.SortByName, true, 0)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"/a/stays.txt"}, pathsOf(t, e, res))
}

func TestSearchSortByNameAscendingMergesSnapshotAndOverlay(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/alpha.txt", Name: "alpha.txt"},
		snapshot.Item{Path: "/a/charlie.txt", Name: "charlie.txt"},
	)
	e := newTestEngine(t, cat)
	e.Put(snapshot.Item{Path: "/a/bravo.txt", Name: "bravo.txt"})

	res := e.Search("", scanner.SortByName, true, 0)
	require.Equal(t, []string{"/a/alpha.txt", "/a/bravo.txt", "/a/charlie.txt"}, pathsOf(t, e, res))
}

func TestSearchSortBySizeDescending(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/small.txt", Name: "small.txt", Size: 1},
		snapshot.Item{Path: "/a/big.txt", Name: "big.txt", Size: 100},
	)
	e := newTestEngine(t, cat)

	res := e.Search("", scanner.SortBySize, false, 0)
	require.Equal(t, []string{"/a/big.txt", "/a/small.txt"}, pathsOf(t, e, res))
}

func TestSearchLimitTruncatesButTotalReflectsFullMatch(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/one.txt", Name: "one.txt"},
		snapshot.Item{Path: "/a/two.txt", Name: "two.txt"},
		snapshot.Item{Path: "/a/three.txt", Name: "three.txt"},
	)
	e := newTestEngine(t, cat)

	res := e.Search("", scanner.SortByName, true, 2)
	require.Len(t, res.Entries, 2)
	require.Equal(t, 3, res.Total)
}

func TestRebuildPreservesOverlay(t *testing.T) {
	cat := newFakeCatalog(snapshot.Item{Path: "/a/old.txt", Name: "old.txt"})
	e := newTestEngine(t, cat)

	e.Put(snapshot.Item{Path: "/a/fresh.txt", Name: "fresh.txt"})
	e.ForceRebuild()

	res := e.Search("fresh", scanner.SortByName, true, 0)
	require.Equal(t, 1, res.Total, "overlay survives a rebuild that the Catalog itself hasn't caught up with yet")
}

func TestRemovePrefixForcesRebuildAndDropsSubtree(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/keep.txt", Name: "keep.txt"},
		snapshot.Item{Path: "/a/sub/drop.txt", Name: "drop.txt"},
	)
	e := newTestEngine(t, cat)

	require.NoError(t, e.RemovePrefix("/a/sub"))

	res := e.Search("", scanner.SortByName, true, 0)
	require.Equal(t, []string{"/a/keep.txt"}, pathsOf(t, e, res))
}

func TestClearResetsToUninitialized(t *testing.T) {
	cat := newFakeCatalog(snapshot.Item{Path: "/a/x.txt", Name: "x.txt"})
	e := newTestEngine(t, cat)

	require.NoError(t, e.Clear())
	require.Equal(t, StateUninitialized, e.State())

	res := e.Search("x", scanner.SortByName, true, 0)
	require.Equal(t, 0, res.Total)
}

func TestStartOnAbsentSnapshotServesFastPathImmediately(t *testing.T) {
	cat := newFakeCatalog(
		snapshot.Item{Path: "/a/one.txt", Name: "one.txt"},
		snapshot.Item{Path: "/a/two.txt", Name: "two.txt"},
	)
	path := filepath.Join(t.TempDir(), "index.bin")
	e := New(cat, path, time.Hour, time.Hour, zerolog.Nop())

	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, StateReady, e.State())

	res := e.Search("", scanner.SortByName, true, 0)
	require.Equal(t, 2, res.Total)
}

func TestMaterializeOutOfRangeReturnsSentinel(t *testing.T) {
	cat := newFakeCatalog(snapshot.Item{Path: "/a/x.txt", Name: "x.txt"})
	e := newTestEngine(t, cat)

	item := e.Materialize(999, nil)
	require.Equal(t, "", item.Path)

	item = e.Materialize(^int64(5), nil)
	require.Equal(t, "", item.Path)
}
