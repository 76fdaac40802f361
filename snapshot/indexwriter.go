package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/business-tech-dev/errthang/errs"
	"github.com/business-tech-dev/errthang/scanner"
)

// Write serializes items to the on-disk binary format at dest: sorts
// by name, builds the string pool, emits header + record array +
// pool, and installs the result atomically via temp-file-plus-rename
// in dest's directory. Partial files are never observable.
func Write(dest string, items []Item) error {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	recordsSize := len(sorted) * scanner.Stride
	pool := make([]byte, 0, recordsSize*2)
	type strRefs struct {
		nameOff, nameLen, pathOff, pathLen, lowerOff, lowerLen uint32
	}
	refs := make([]strRefs, len(sorted))

	for i, it := range sorted {
		refs[i].nameOff = uint32(headerSize + recordsSize + len(pool))
		pool = append(pool, it.Name...)
		refs[i].nameLen = uint32(len(it.Name))

		refs[i].pathOff = uint32(headerSize + recordsSize + len(pool))
		pool = append(pool, it.Path...)
		refs[i].pathLen = uint32(len(it.Path))

		lower := it.LowerName()
		refs[i].lowerOff = uint32(headerSize + recordsSize + len(pool))
		pool = append(pool, lower...)
		refs[i].lowerLen = uint32(len(lower))
	}

	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".errthang-index-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", errs.ErrWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)

	if _, err := w.WriteString(magic); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write magic: %v", errs.ErrWriteFailed, err)
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write version: %v", errs.ErrWriteFailed, err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(sorted))); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write count: %v", errs.ErrWriteFailed, err)
	}

	var rec [scanner.Stride]byte
	for i, it := range sorted {
		for j := range rec {
			rec[j] = 0
		}
		binary.LittleEndian.PutUint64(rec[scanner.OffSize:], uint64(it.Size))
		var modSeconds float64
		if it.HasModTime {
			modSeconds = float64(it.ModTime.UnixNano()) / float64(1e9)
		}
		binary.LittleEndian.PutUint64(rec[scanner.OffModTime:], math.Float64bits(modSeconds))
		if it.IsDir {
			rec[scanner.OffFlags] = scanner.FlagIsDirectory
		}
		binary.LittleEndian.PutUint32(rec[scanner.OffNameOffset:], refs[i].nameOff)
		binary.LittleEndian.PutUint32(rec[scanner.OffNameLength:], refs[i].nameLen)
		binary.LittleEndian.PutUint32(rec[scanner.OffPathOffset:], refs[i].pathOff)
		binary.LittleEndian.PutUint32(rec[scanner.OffPathLength:], refs[i].pathLen)
		binary.LittleEndian.PutUint32(rec[scanner.OffLowerOffset:], refs[i].lowerOff)
		binary.LittleEndian.PutUint32(rec[scanner.OffLowerLength:], refs[i].lowerLen)

		if _, err := w.Write(rec[:]); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: write record: %v", errs.ErrWriteFailed, err)
		}
	}

	if _, err := w.Write(pool); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write string pool: %v", errs.ErrWriteFailed, err)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: flush: %v", errs.ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: fsync: %v", errs.ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", errs.ErrWriteFailed, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%w: rename: %v", errs.ErrWriteFailed, err)
	}
	return nil
}
