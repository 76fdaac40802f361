// Package engine implements the SearchEngine: the single-writer actor
// that owns the current BinaryIndex, the DeltaOverlay sitting on top
// of it, and the generation token controlling in-flight rebuilds. It
// is the seam where the static snapshot and the live overlay are
// merged into one search result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/business-tech-dev/errthang/catalog"
	"github.com/business-tech-dev/errthang/errs"
	"github.com/business-tech-dev/errthang/gen"
	"github.com/business-tech-dev/errthang/overlay"
	"github.com/business-tech-dev/errthang/scanner"
	"github.com/business-tech-dev/errthang/snapshot"
)

// fastPathLimit bounds how many Catalog rows are used to build the
// immediate fast-path snapshot served while the full rebuild streams
// in the background.
const fastPathLimit = 1000

// State names where the Engine is in its load/rebuild lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateRebuilding
)

// EventKind names a change notification the Engine publishes.
type EventKind int

const (
	EventIndexLoadStarted EventKind = iota
	EventIndexLoadFinished
	EventIndexUpdated
)

// Notification is a single published change event. Err is set only
// on the EventIndexLoadFinished that Start publishes when opening the
// snapshot fails for a reason other than absent/corrupt; rebuild
// failures are logged, not published.
type Notification struct {
	Kind EventKind
	Err  error
}

// Engine is the SearchEngine: single-writer owner of the BinaryIndex
// pointer, the Overlay, and the generation Source. All exported
// methods are safe for concurrent use; mutation and rebuild both
// serialize through mu.
type Engine struct {
	mu    sync.Mutex
	state State
	index *snapshot.BinaryIndex
	ov    *overlay.Overlay
	gen   *gen.Source

	cat          catalog.Catalog
	snapshotPath string

	debounceDelay    time.Duration
	maxDebounceDelay time.Duration
	rebuildTimer     *time.Timer
	maxTimer         *time.Timer

	log zerolog.Logger

	notify chan Notification
}

// New returns an Engine backed by cat, persisting snapshots at
// snapshotPath, debouncing rebuilds per debounceDelay/maxDebounceDelay.
func New(cat catalog.Catalog, snapshotPath string, debounceDelay, maxDebounceDelay time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		state:            StateUninitialized,
		ov:               overlay.New(),
		gen:              gen.NewSource(),
		cat:              cat,
		snapshotPath:     snapshotPath,
		debounceDelay:    debounceDelay,
		maxDebounceDelay: maxDebounceDelay,
		log:              log,
		notify:           make(chan Notification, 32),
	}
}

// Notifications returns the channel change events are published on.
// Consumers that don't keep up simply miss events; none of the
// Engine's own logic depends on delivery.
func (e *Engine) Notifications() <-chan Notification {
	return e.notify
}

// State reports the Engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start attempts to open the existing on-disk snapshot. If it is
// absent or corrupt, Start builds a fast-path snapshot from up to
// 1000 Catalog rows so queries have something to serve immediately,
// then kicks off a full rebuild in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.publish(Notification{Kind: EventIndexLoadStarted})

	idx, err := snapshot.Open(e.snapshotPath)
	if err == nil {
		e.mu.Lock()
		e.index = idx
		e.state = StateReady
		e.mu.Unlock()
		e.publish(Notification{Kind: EventIndexLoadFinished})
		return nil
	}
	if !errors.Is(err, errs.ErrSnapshotAbsent) && !errors.Is(err, errs.ErrSnapshotCorrupt) {
		e.publish(Notification{Kind: EventIndexLoadFinished, Err: err})
		return err
	}

	e.mu.Lock()
	e.state = StateLoading
	e.mu.Unlock()

	if ferr := e.loadFastPath(); ferr != nil {
		e.log.Warn().Err(ferr).Msg("engine: fast-path snapshot build failed, continuing to full rebuild")
	}

	go e.rebuild(ctx)
	return nil
}

// loadFastPath builds a small snapshot out of up to fastPathLimit
// Catalog rows and installs it, so Search has data to serve while the
// full rebuild streams the rest of the Catalog in the background.
func (e *Engine) loadFastPath() error {
	items, err := e.cat.RangeAll()
	if err != nil {
		return fmt.Errorf("fast path: range catalog: %w", err)
	}
	if len(items) > fastPathLimit {
		items = items[:fastPathLimit]
	}
	if len(items) == 0 {
		return nil
	}

	fastPath := e.snapshotPath + ".fastpath-" + uuid.NewString()
	defer os.Remove(fastPath)

	if err := snapshot.Write(fastPath, items); err != nil {
		return fmt.Errorf("fast path: write: %w", err)
	}
	idx, err := snapshot.Open(fastPath)
	if err != nil {
		return fmt.Errorf("fast path: open: %w", err)
	}

	e.mu.Lock()
	e.index = idx
	e.state = StateReady
	e.mu.Unlock()
	return nil
}

// RequestRebuild schedules a debounced rebuild. It implements
// crawler.RebuildRequester and is also the path mutations take after
// every Put/Remove.
func (e *Engine) RequestRebuild() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduleLocked()
}

// scheduleLocked arms the short reset-on-activity timer, and the hard
// maximum-delay timer if one isn't already pending, mirroring the
// watcher package's debouncer.
func (e *Engine) scheduleLocked() {
	if e.rebuildTimer != nil {
		e.rebuildTimer.Stop()
	}
	e.rebuildTimer = time.AfterFunc(e.debounceDelay, e.triggerRebuild)

	if e.maxTimer == nil {
		e.maxTimer = time.AfterFunc(e.maxDebounceDelay, e.triggerRebuild)
	}
}

func (e *Engine) triggerRebuild() {
	go e.rebuild(context.Background())
}

func (e *Engine) stopTimersLocked() {
	if e.rebuildTimer != nil {
		e.rebuildTimer.Stop()
		e.rebuildTimer = nil
	}
	if e.maxTimer != nil {
		e.maxTimer.Stop()
		e.maxTimer = nil
	}
}

// rebuild drains the Catalog into a fresh snapshot and swaps it in.
// The overlay is never cleared by a rebuild -- its mutations and
// tombstones stay in effect until Clear; the engine does not call
// Overlay.GC.
func (e *Engine) rebuild(ctx context.Context) {
	token := e.gen.Next()

	e.mu.Lock()
	e.stopTimersLocked()
	e.state = StateRebuilding
	e.mu.Unlock()

	items, err := e.cat.RangeAll()
	if err != nil {
		e.log.Warn().Err(err).Msg("engine: rebuild: range catalog failed, rebuild aborted")
		e.backToReady()
		return
	}
	if ctx.Err() != nil || !e.gen.Valid(token) {
		e.backToReady()
		return
	}

	if err := snapshot.Write(e.snapshotPath, items); err != nil {
		e.log.Warn().Err(err).Msg("engine: rebuild: write failed, queries continue against previous snapshot")
		e.backToReady()
		return
	}

	newIdx, err := snapshot.Open(e.snapshotPath)
	if err != nil {
		e.log.Warn().Err(err).Msg("engine: rebuild: reopen failed")
		e.backToReady()
		return
	}
	if !e.gen.Valid(token) {
		newIdx.Close()
		e.backToReady()
		return
	}

	e.mu.Lock()
	old := e.index
	e.index = newIdx
	e.state = StateReady
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}

	e.publish(Notification{Kind: EventIndexUpdated})
}

func (e *Engine) backToReady() {
	e.mu.Lock()
	if e.index != nil {
		e.state = StateReady
	} else {
		e.state = StateUninitialized
	}
	e.mu.Unlock()
}

// ForceRebuild runs the rebuild protocol synchronously, bypassing the
// debounce timers.
func (e *Engine) ForceRebuild() {
	e.mu.Lock()
	e.stopTimersLocked()
	e.mu.Unlock()
	e.rebuild(context.Background())
}

// CancelIndexing bumps the generation token, so any in-flight crawl
// or rebuild still checking it notices and stops at its next check.
func (e *Engine) CancelIndexing() {
	e.gen.Next()
}

// Put records item in the overlay and schedules a debounced rebuild.
func (e *Engine) Put(item snapshot.Item) {
	e.mu.Lock()
	e.ov.Put(item)
	e.scheduleLocked()
	e.mu.Unlock()
	e.publish(Notification{Kind: EventIndexUpdated})
}

// Remove tombstones path in the overlay and schedules a debounced
// rebuild.
func (e *Engine) Remove(path string) {
	e.mu.Lock()
	e.ov.Remove(path)
	e.scheduleLocked()
	e.mu.Unlock()
	e.publish(Notification{Kind: EventIndexUpdated})
}

// RemovePrefix deletes every Catalog row under prefix and forces an
// immediate full rebuild -- prefix iteration directly over the packed
// snapshot isn't supported by the format, so this is the only correct
// way to honor a subtree removal.
func (e *Engine) RemovePrefix(prefix string) error {
	if err := e.cat.DeletePrefix(prefix); err != nil {
		return err
	}
	e.ForceRebuild()
	return nil
}

// Clear discards the current index and overlay and removes the
// on-disk snapshot, returning the Engine to StateUninitialized.
func (e *Engine) Clear() error {
	e.mu.Lock()
	e.stopTimersLocked()
	old := e.index
	e.index = nil
	e.ov = overlay.New()
	e.state = StateUninitialized
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if err := os.Remove(e.snapshotPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear: remove snapshot: %w", err)
	}
	return nil
}

func (e *Engine) publish(n Notification) {
	select {
	case e.notify <- n:
	default:
		e.log.Warn().Msg("engine: notification channel full, dropping event")
	}
}

// compareItems applies the same ordering scanner.Compare does, but
// over two materialized overlay Items instead of packed records.
func compareItems(a, b snapshot.Item, key scanner.SortKey) int {
	switch key {
	case scanner.SortByName:
		return compareStrings(a.Name, b.Name)
	case scanner.SortByPath:
		return compareStrings(a.Path, b.Path)
	case scanner.SortBySize:
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		default:
			return compareItems(a, b, scanner.SortByName)
		}
	case scanner.SortByDate:
		am, bm := modSeconds(a), modSeconds(b)
		switch {
		case am < bm:
			return -1
		case am > bm:
			return 1
		default:
			return compareItems(a, b, scanner.SortByName)
		}
	default:
		return 0
	}
}

func modSeconds(it snapshot.Item) float64 {
	if !it.HasModTime {
		return 0
	}
	return float64(it.ModTime.UnixNano()) / float64(time.Second)
}

// compareStrings applies the same byte-lexicographic-with-length-
// tiebreak rule the packed format uses, so overlay-only comparisons
// agree with BinaryIndex.Compare.
func compareStrings(a, b string) int {
	ab, bb := []byte(a), []byte(b)
	n := len(ab)
	if len(bb) < n {
		n = len(bb)
	}
	for i := 0; i < n; i++ {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ab) < len(bb):
		return -1
	case len(ab) > len(bb):
		return 1
	default:
		return 0
	}
}

// tombstoneBitmap resolves each given path (tombstoned, or shadowed by
// an overlay mutation) against idx, building a roaring bitmap of the
// snapshot indices to suppress from a search result. Paths with no
// current snapshot record are a no-op.
func tombstoneBitmap(idx *snapshot.BinaryIndex, paths []string) *roaring.Bitmap {
	bm := roaring.New()
	if idx == nil {
		return bm
	}
	for _, p := range paths {
		if pos := idx.FindPath(p); pos >= 0 {
			bm.Add(uint32(pos))
		}
	}
	return bm
}
