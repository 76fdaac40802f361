// Package snapshot implements the on-disk binary index format: a
// memory-mapped reader (BinaryIndex) and an atomic writer
// (IndexWriter). The record layout and comparator semantics are a
// direct port of the scanner package's byte-level primitives.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edsrzf/mmap-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/business-tech-dev/errthang/errs"
	"github.com/business-tech-dev/errthang/scanner"
)

const (
	magic        = "ERRT"
	formatVersion = int32(2)
	headerSize   = 16 // magic(4) + version(4) + count(8)
)

// BinaryIndex owns a memory-mapped snapshot file for its lifetime.
// The mapping is immutable, so all read operations are safe for
// concurrent use by multiple query goroutines.
type BinaryIndex struct {
	file  *os.File
	data  mmap.MMap
	count int32
}

// Open memory-maps path read-only and validates its header. Returns
// errs.ErrSnapshotAbsent if the file does not exist, or
// errs.ErrSnapshotCorrupt if the magic/version/size checks fail.
func Open(path string) (*BinaryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrSnapshotAbsent
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if info.Size() < headerSize {
		f.Close()
		return nil, errs.ErrSnapshotCorrupt
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap snapshot: %w", err)
	}

	if string(data[0:4]) != magic {
		data.Unmap()
		f.Close()
		return nil, errs.ErrSnapshotCorrupt
	}
	version := int32(binary.LittleEndian.Uint32(data[4:8]))
	if version != formatVersion {
		data.Unmap()
		f.Close()
		return nil, errs.ErrSnapshotCorrupt
	}
	count64 := int64(binary.LittleEndian.Uint64(data[8:16]))
	if count64 < 0 {
		data.Unmap()
		f.Close()
		return nil, errs.ErrSnapshotCorrupt
	}
	needed := int64(headerSize) + count64*int64(scanner.Stride)
	if int64(info.Size()) < needed {
		data.Unmap()
		f.Close()
		return nil, errs.ErrSnapshotCorrupt
	}

	return &BinaryIndex{file: f, data: data, count: int32(count64)}, nil
}

// Close unmaps the file and releases the underlying descriptor.
func (b *BinaryIndex) Close() error {
	if err := b.data.Unmap(); err != nil {
		return err
	}
	return b.file.Close()
}

// ItemCount returns the number of records in the snapshot.
func (b *BinaryIndex) ItemCount() int32 {
	return b.count
}

// Search splits query on whitespace into lowercased tokens and, for
// each one, partitions [0, count) into contiguous ranges (one per
// available CPU) and dispatches scanner.Scan on each range in
// parallel; per-token results are concatenated in partition order,
// which -- because partitions are contiguous -- yields a globally
// ascending index sequence per token. A single token's result is
// returned directly; for multiple tokens the per-token ascending
// lists are intersected (sorted-merge, since each is already
// ascending) to require every token to match. An empty query returns
// every index in natural order.
func (b *BinaryIndex) Search(query string) []int32 {
	if b.count == 0 {
		return nil
	}

	tokens := strings.Fields(lowerASCII(query))
	if len(tokens) == 0 {
		return b.scanToken(nil)
	}
	if len(tokens) == 1 {
		return b.scanToken([]byte(tokens[0]))
	}

	perToken := make([][]int32, len(tokens))
	for i, tok := range tokens {
		perToken[i] = b.scanToken([]byte(tok))
	}
	return intersectAscending(perToken)
}

// scanToken partitions [0, count) into contiguous ranges, one per
// available CPU, dispatching scanner.Scan with the single token on
// each range in parallel, and concatenates results in partition
// order.
func (b *BinaryIndex) scanToken(token []byte) []int32 {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if int32(workers) > b.count {
		workers = int(b.count)
	}

	chunk := (int(b.count) + workers - 1) / workers
	partials := make([][]int32, workers)

	p := pool.New().WithMaxGoroutines(workers)
	for w := 0; w < workers; w++ {
		w := w
		start := int32(w * chunk)
		end := start + int32(chunk)
		if end > b.count {
			end = b.count
		}
		if start >= end {
			continue
		}
		p.Go(func() {
			partials[w] = scanner.Scan(b.data, headerSize, uint64(scanner.Stride), start, end, token)
		})
	}
	p.Wait()

	total := 0
	for _, part := range partials {
		total += len(part)
	}
	results := make([]int32, 0, total)
	for _, part := range partials {
		results = append(results, part...)
	}
	return results
}

// intersectAscending intersects N already-ascending index lists via a
// repeated sorted-merge, since query tokens are typically few and
// each list is already in order from scanToken.
func intersectAscending(lists [][]int32) []int32 {
	if len(lists) == 0 {
		return nil
	}
	result := lists[0]
	for _, next := range lists[1:] {
		result = intersectTwo(result, next)
		if len(result) == 0 {
			break
		}
	}
	return result
}

func intersectTwo(a, b []int32) []int32 {
	out := make([]int32, 0, minInt(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Materialize decodes record index into an Item. Out-of-range indices
// return a zero-value sentinel Item with Path == "" rather than
// panicking, per the core's "queries never fail" contract.
func (b *BinaryIndex) Materialize(index int32) Item {
	if index < 0 || index >= b.count {
		return Item{}
	}
	rec := b.record(index)

	nameOff := binary.LittleEndian.Uint32(rec[scanner.OffNameOffset:])
	nameLen := binary.LittleEndian.Uint32(rec[scanner.OffNameLength:])
	pathOff := binary.LittleEndian.Uint32(rec[scanner.OffPathOffset:])
	pathLen := binary.LittleEndian.Uint32(rec[scanner.OffPathLength:])

	name := toUTF8(b.data[nameOff : nameOff+nameLen])
	path := toUTF8(b.data[pathOff : pathOff+pathLen])

	size := int64(binary.LittleEndian.Uint64(rec[scanner.OffSize:]))
	modBits := binary.LittleEndian.Uint64(rec[scanner.OffModTime:])
	modSeconds := float64frombits(modBits)
	flags := rec[scanner.OffFlags]

	item := Item{
		Path:  path,
		Name:  name,
		IsDir: flags&scanner.FlagIsDirectory != 0,
		Size:  size,
	}
	if modSeconds != 0 {
		item.HasModTime = true
		item.ModTime = secondsToTime(modSeconds)
	}
	return item
}

// FindPath delegates to scanner.LookupPath, returning -1 if absent.
func (b *BinaryIndex) FindPath(path string) int32 {
	return scanner.LookupPath(b.data, headerSize, uint64(scanner.Stride), b.count, []byte(path))
}

// Sort delegates to scanner.SortIndices.
func (b *BinaryIndex) Sort(indices []int32, key scanner.SortKey, ascending bool) {
	scanner.SortIndices(indices, b.data, headerSize, uint64(scanner.Stride), key, ascending)
}

// Compare orders two snapshot records by key via scanner.Compare. The
// engine's merge step compares a record against an overlay Item with
// CompareItem instead.
func (b *BinaryIndex) Compare(index int32, other int32, key scanner.SortKey) int {
	return scanner.Compare(b.data, headerSize, uint64(scanner.Stride), index, other, key)
}

// CompareItem compares the snapshot record at index against an
// arbitrary Item (typically from the overlay) on the same
// byte-lexicographic basis the Scanner uses for name/path, so the
// binary and overlay orderings agree bit-for-bit.
func (b *BinaryIndex) CompareItem(index int32, other Item, key scanner.SortKey) int {
	rec := b.record(index)
	switch key {
	case scanner.SortByName:
		return compareStringBytes(b.fieldString(rec, scanner.OffNameOffset, scanner.OffNameLength), other.Name)
	case scanner.SortByPath:
		return compareStringBytes(b.fieldString(rec, scanner.OffPathOffset, scanner.OffPathLength), other.Path)
	case scanner.SortBySize:
		size := int64(binary.LittleEndian.Uint64(rec[scanner.OffSize:]))
		switch {
		case size < other.Size:
			return -1
		case size > other.Size:
			return 1
		default:
			return b.CompareItem(index, other, scanner.SortByName)
		}
	case scanner.SortByDate:
		modBits := binary.LittleEndian.Uint64(rec[scanner.OffModTime:])
		mod := float64frombits(modBits)
		otherMod := float64(0)
		if other.HasModTime {
			otherMod = float64(other.ModTime.UnixNano()) / float64(1e9)
		}
		switch {
		case mod < otherMod:
			return -1
		case mod > otherMod:
			return 1
		default:
			return b.CompareItem(index, other, scanner.SortByName)
		}
	default:
		return 0
	}
}

func (b *BinaryIndex) record(index int32) []byte {
	offset := headerSize + int64(index)*int64(scanner.Stride)
	return b.data[offset : offset+int64(scanner.Stride)]
}

func (b *BinaryIndex) fieldString(rec []byte, offOff, lenOff int) string {
	off := binary.LittleEndian.Uint32(rec[offOff:])
	length := binary.LittleEndian.Uint32(rec[lenOff:])
	return toUTF8(b.data[off : off+length])
}

func compareStringBytes(a, b string) int {
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

func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return sanitizeUTF8(b)
}

func sanitizeUTF8(b []byte) string {
	var out []rune
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

func float64frombits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func secondsToTime(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
