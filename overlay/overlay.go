// Package overlay implements the DeltaOverlay: the small, mostly-read
// in-memory structure that shadows the snapshot with mutations that
// arrived since it was built. It is guarded by the SearchEngine's
// actor boundary, not by its own lock -- mirroring the teacher's
// PatriciaPathIndex, which instead guards its own map with an
// RWMutex, this type is simpler and leaves locking to its single
// caller per the engine's single-writer design.
package overlay

import (
	"strings"

	"github.com/business-tech-dev/errthang/snapshot"
)

// Overlay holds recent mutations and tombstones. A path is never
// present in both maps at once.
type Overlay struct {
	mutations  map[string]snapshot.Item
	tombstones map[string]struct{}
}

// New returns an empty Overlay.
func New() *Overlay {
	return &Overlay{
		mutations:  make(map[string]snapshot.Item),
		tombstones: make(map[string]struct{}),
	}
}

// Put records item as a mutation, clearing any tombstone for its
// path.
func (o *Overlay) Put(item snapshot.Item) {
	delete(o.tombstones, item.Path)
	o.mutations[item.Path] = item
}

// Remove tombstones path, clearing any mutation for it.
func (o *Overlay) Remove(path string) {
	delete(o.mutations, path)
	o.tombstones[path] = struct{}{}
}

// ContainsTomb reports whether path has been tombstoned.
func (o *Overlay) ContainsTomb(path string) bool {
	_, ok := o.tombstones[path]
	return ok
}

// Tombstones returns a snapshot of the tombstoned paths.
func (o *Overlay) Tombstones() []string {
	paths := make([]string, 0, len(o.tombstones))
	for p := range o.tombstones {
		paths = append(paths, p)
	}
	return paths
}

// TombstoneCount reports how many paths are currently tombstoned.
func (o *Overlay) TombstoneCount() int {
	return len(o.tombstones)
}

// MutationCount reports how many mutations are currently recorded.
func (o *Overlay) MutationCount() int {
	return len(o.mutations)
}

// Mutations returns every mutation item. Callers treat the result as
// a snapshot; it is not safe to retain across a Put/Remove without
// the engine's lock.
func (o *Overlay) Mutations() []snapshot.Item {
	items := make([]snapshot.Item, 0, len(o.mutations))
	for _, it := range o.mutations {
		items = append(items, it)
	}
	return items
}

// MatchTokenAND reports whether every whitespace-separated token of
// query (already lowercased) appears as a substring of name (already
// lowercased). An empty query matches everything.
func MatchTokenAND(lowerName, lowerQuery string) bool {
	tokens := strings.Fields(lowerQuery)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if !strings.Contains(lowerName, tok) {
			return false
		}
	}
	return true
}

// GC removes mutations whose (path, size, mtime) already matches the
// given resolver's view of the snapshot -- a periodic best-effort
// cleanup, not required for correctness (§4.6).
func (o *Overlay) GC(matchesSnapshot func(item snapshot.Item) bool) {
	for path, item := range o.mutations {
		if matchesSnapshot(item) {
			delete(o.mutations, path)
		}
	}
}
