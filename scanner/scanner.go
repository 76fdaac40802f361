// Package scanner holds the byte-level substring-match and comparator
// primitives that operate directly on a packed record buffer. It is
// stateless: every function takes the buffer and offsets it needs and
// returns a result, mirroring the C implementation this format was
// distilled from (perform_search_scan / perform_path_lookup /
// perform_index_sort).
package scanner

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

// Stride is the fixed per-record byte width in the packed array.
const Stride = 48

// Field offsets within a single Stride-byte record.
const (
	OffSize         = 0
	OffModTime      = 8
	OffFlags        = 16
	OffNameOffset   = 20
	OffNameLength   = 24
	OffPathOffset   = 28
	OffPathLength   = 32
	OffLowerOffset  = 36
	OffLowerLength  = 40
	FlagIsDirectory = 1 << 0
)

// SortKey names the field a sort_indices call orders by.
type SortKey int

const (
	SortByName SortKey = iota
	SortByPath
	SortBySize
	SortByDate
)

func recordPtr(buf []byte, itemBase, stride uint64, index int32) []byte {
	offset := itemBase + stride*uint64(index)
	return buf[offset : offset+stride]
}

func strField(buf []byte, rec []byte, offOff, lenOff int) []byte {
	off := binary.LittleEndian.Uint32(rec[offOff : offOff+4])
	length := binary.LittleEndian.Uint32(rec[lenOff : lenOff+4])
	return buf[off : off+length]
}

// Scan reads the lowercased-name field of each record in [start, end)
// and performs a substring search of query (already lowercased by the
// caller) within it, returning the indices of matching records in
// ascending order. No allocation beyond the returned slice.
func Scan(buf []byte, itemBase, stride uint64, start, end int32, query []byte) []int32 {
	results := make([]int32, 0, end-start)
	for i := start; i < end; i++ {
		rec := recordPtr(buf, itemBase, stride, i)
		lowerName := strField(buf, rec, OffLowerOffset, OffLowerLength)
		if len(query) == 0 || bytes.Contains(lowerName, query) {
			results = append(results, i)
		}
	}
	return results
}

// LookupPath performs a linear scan for the first record whose path
// matches targetPath exactly (length then bytes), returning its index
// or -1 if no record matches.
func LookupPath(buf []byte, itemBase, stride uint64, count int32, targetPath []byte) int32 {
	for i := int32(0); i < count; i++ {
		rec := recordPtr(buf, itemBase, stride, i)
		path := strField(buf, rec, OffPathOffset, OffPathLength)
		if len(path) != len(targetPath) {
			continue
		}
		if bytes.Equal(path, targetPath) {
			return i
		}
	}
	return -1
}

// compareBytes orders byte slices lexicographically with length as
// the tiebreaker (shorter is smaller) -- the same rule the name/path
// comparators in the original scanner use.
func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if c := bytes.Compare(a[:n], b[:n]); c != 0 {
		return c
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Compare orders two records by key, ignoring the ascending flag --
// callers apply direction themselves (BinaryIndex.compare needs the
// raw relation to compare against a materialized overlay Item too).
func Compare(buf []byte, itemBase, stride uint64, a, b int32, key SortKey) int {
	recA := recordPtr(buf, itemBase, stride, a)
	recB := recordPtr(buf, itemBase, stride, b)
	return compareRecords(buf, recA, recB, key)
}

func compareRecords(buf []byte, recA, recB []byte, key SortKey) int {
	switch key {
	case SortByName:
		return compareBytes(strField(buf, recA, OffNameOffset, OffNameLength), strField(buf, recB, OffNameOffset, OffNameLength))
	case SortByPath:
		return compareBytes(strField(buf, recA, OffPathOffset, OffPathLength), strField(buf, recB, OffPathOffset, OffPathLength))
	case SortBySize:
		valA := int64(binary.LittleEndian.Uint64(recA[OffSize : OffSize+8]))
		valB := int64(binary.LittleEndian.Uint64(recB[OffSize : OffSize+8]))
		switch {
		case valA < valB:
			return -1
		case valA > valB:
			return 1
		default:
			return compareRecords(buf, recA, recB, SortByName)
		}
	case SortByDate:
		valA := decodeFloat64(recA[OffModTime : OffModTime+8])
		valB := decodeFloat64(recB[OffModTime : OffModTime+8])
		switch {
		case valA < valB:
			return -1
		case valA > valB:
			return 1
		default:
			return compareRecords(buf, recA, recB, SortByName)
		}
	default:
		return 0
	}
}

func decodeFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// SortIndices sorts indices in place by the named key. Sort is a
// total order; stability is not required (callers that want a
// deterministic tie-break add path as a secondary key themselves).
func SortIndices(indices []int32, buf []byte, itemBase, stride uint64, key SortKey, ascending bool) {
	sort.Slice(indices, func(i, j int) bool {
		c := Compare(buf, itemBase, stride, indices[i], indices[j], key)
		if ascending {
			return c < 0
		}
		return c > 0
	})
}
