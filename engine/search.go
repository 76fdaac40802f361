package engine

import (
	"sort"

	"github.com/business-tech-dev/errthang/overlay"
	"github.com/business-tech-dev/errthang/scanner"
	"github.com/business-tech-dev/errthang/snapshot"
)

// Result is the outcome of a Search: Entries is the merged result
// vector (non-negative = snapshot record index, negative = bitwise
// NOT of a position in Overlay), Overlay holds the materialized
// overlay items those negative entries refer to, and Total is the
// pre-truncation match count.
type Result struct {
	Entries []int64
	Overlay []snapshot.Item
	Total   int
}

// Search runs the snapshot scan, removes tombstoned hits and hits whose
// path has an overlay mutation (the mutation shadows the snapshot row),
// matches and sorts the overlay's candidate mutations, and merges both orderings
// into one ascending-or-descending result vector, truncated to limit
// (0 or negative means unlimited).
func (e *Engine) Search(query string, key scanner.SortKey, ascending bool, limit int) Result {
	e.mu.Lock()
	idx := e.index
	tombs := e.ov.Tombstones()
	mutations := e.ov.Mutations()
	e.mu.Unlock()

	var snapIndices []int32
	if idx != nil {
		snapIndices = idx.Search(query)
	}

	hidden := tombs
	for _, it := range mutations {
		hidden = append(hidden, it.Path)
	}
	if len(hidden) > 0 && len(snapIndices) > 0 {
		bm := tombstoneBitmap(idx, hidden)
		filtered := snapIndices[:0]
		for _, i := range snapIndices {
			if !bm.Contains(uint32(i)) {
				filtered = append(filtered, i)
			}
		}
		snapIndices = filtered
	}

	if idx != nil && len(snapIndices) > 1 {
		idx.Sort(snapIndices, key, ascending)
	}

	lowerQuery := lowerASCII(query)
	var candidates []snapshot.Item
	for _, it := range mutations {
		if overlay.MatchTokenAND(it.LowerName(), lowerQuery) {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		c := compareItems(candidates[i], candidates[j], key)
		if ascending {
			return c < 0
		}
		return c > 0
	})

	entries := make([]int64, 0, len(snapIndices)+len(candidates))
	overlayOut := make([]snapshot.Item, 0, len(candidates))

	i, j := 0, 0
	for i < len(snapIndices) && j < len(candidates) {
		c := idx.CompareItem(snapIndices[i], candidates[j], key)
		takeSnapshot := c == 0
		if !takeSnapshot {
			if ascending {
				takeSnapshot = c < 0
			} else {
				takeSnapshot = c > 0
			}
		}
		if takeSnapshot {
			entries = append(entries, int64(snapIndices[i]))
			i++
		} else {
			overlayOut = append(overlayOut, candidates[j])
			entries = append(entries, ^int64(len(overlayOut)-1))
			j++
		}
	}
	for ; i < len(snapIndices); i++ {
		entries = append(entries, int64(snapIndices[i]))
	}
	for ; j < len(candidates); j++ {
		overlayOut = append(overlayOut, candidates[j])
		entries = append(entries, ^int64(len(overlayOut)-1))
	}

	total := len(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return Result{Entries: entries, Overlay: overlayOut, Total: total}
}

// Materialize decodes a single Result.Entries value against overlay,
// the matching Result.Overlay slice, returning a zero-value sentinel
// Item on any out-of-range reference rather than panicking.
func (e *Engine) Materialize(entry int64, overlayItems []snapshot.Item) snapshot.Item {
	if entry >= 0 {
		e.mu.Lock()
		idx := e.index
		e.mu.Unlock()
		if idx == nil {
			return snapshot.Item{}
		}
		return idx.Materialize(int32(entry))
	}
	pos := ^entry
	if pos < 0 || int(pos) >= len(overlayItems) {
		return snapshot.Item{}
	}
	return overlayItems[pos]
}

// lowerASCII performs the same locale-insensitive, byte-wise ASCII
// lowercasing used for name matching elsewhere in the module.
func lowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
