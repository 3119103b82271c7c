package segment

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"
)

// offsetEntryWidth is the width in bytes of one offset-index entry, and
// timeIndexEntryWidth that of one timestamp-index entry, whose value is
// widened to 8 bytes for the microsecond timestamp.
const (
	offsetEntryWidth   = 4 + 4  // relative_offset u32 | file_position u32
	timeIndexEntryWidth = 4 + 8 // relative_offset u32 | timestamp_us u64
)

// ErrIndexFull is returned by Write when the index file has no room left
// for another entry (it was pre-allocated at segment creation).
var ErrIndexFull = errors.New("index is full")

// offsetIndex is the memory-mapped `.index` file: a sparse, file-position-
// sorted sequence of (relative_offset, file_position) pairs emitted every
// segment.indexGranularity bytes written, as described in spec §3/§4.2.
//
// This mirrors the mmap-backed index used by proglog and liftbridge's
// commitlog, sized to a fixed capacity up front via Truncate + mmap so that
// appends never need to grow the mapping.
type offsetIndex struct {
	file   *os.File
	mmap   gommap.MMap
	size   uint64
	maxBytes uint64
}

func openOffsetIndex(path string, maxBytes uint64) (*offsetIndex, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open index file")
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat index file")
	}
	size := uint64(fi.Size())
	if err := file.Truncate(int64(maxBytes)); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "truncate index file")
	}
	mmap, err := gommap.Map(file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "mmap index file")
	}
	return &offsetIndex{file: file, mmap: mmap, size: size, maxBytes: maxBytes}, nil
}

// Write appends one (relativeOffset, filePosition) entry.
func (idx *offsetIndex) Write(relativeOffset, filePosition uint32) error {
	if idx.size+offsetEntryWidth > idx.maxBytes {
		return ErrIndexFull
	}
	putUint32(idx.mmap[idx.size:], relativeOffset)
	putUint32(idx.mmap[idx.size+4:], filePosition)
	idx.size += offsetEntryWidth
	return nil
}

// entryCount returns the number of entries currently written.
func (idx *offsetIndex) entryCount() int {
	return int(idx.size / offsetEntryWidth)
}

// entryAt returns the i'th entry.
func (idx *offsetIndex) entryAt(i int) (relativeOffset, filePosition uint32) {
	off := uint64(i) * offsetEntryWidth
	return getUint32(idx.mmap[off:]), getUint32(idx.mmap[off+4:])
}

// search returns the index of the last entry whose relative offset is <=
// target, or -1 if every entry's offset is greater than target. Entries are
// written in non-decreasing relative-offset order, so binary search applies.
func (idx *offsetIndex) search(target uint32) int {
	n := idx.entryCount()
	lo, hi, result := 0, n-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		relOff, _ := idx.entryAt(mid)
		if relOff <= target {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

func (idx *offsetIndex) Sync() error {
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return errors.Wrap(err, "sync index mmap")
	}
	return idx.file.Sync()
}

// Close flushes and unmaps the index, truncating the backing file down to
// the bytes actually written so a later reopen recovers the true size.
func (idx *offsetIndex) Close() error {
	if err := idx.Sync(); err != nil {
		return err
	}
	if err := idx.file.Truncate(int64(idx.size)); err != nil {
		return errors.Wrap(err, "truncate index to size")
	}
	if err := idx.mmap.UnsafeUnmap(); err != nil {
		return errors.Wrap(err, "unmap index")
	}
	return idx.file.Close()
}

// timeIndex is the memory-mapped `.timeindex` file: (relative_offset u32,
// timestamp_us u64) pairs, one per batch appended.
type timeIndex struct {
	file     *os.File
	mmap     gommap.MMap
	size     uint64
	maxBytes uint64
}

func openTimeIndex(path string, maxBytes uint64) (*timeIndex, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open timeindex file")
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat timeindex file")
	}
	size := uint64(fi.Size())
	if err := file.Truncate(int64(maxBytes)); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "truncate timeindex file")
	}
	mmap, err := gommap.Map(file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "mmap timeindex file")
	}
	return &timeIndex{file: file, mmap: mmap, size: size, maxBytes: maxBytes}, nil
}

func (idx *timeIndex) Write(relativeOffset uint32, timestampUs uint64) error {
	if idx.size+timeIndexEntryWidth > idx.maxBytes {
		return ErrIndexFull
	}
	putUint32(idx.mmap[idx.size:], relativeOffset)
	putUint64(idx.mmap[idx.size+4:], timestampUs)
	idx.size += timeIndexEntryWidth
	return nil
}

func (idx *timeIndex) entryCount() int {
	return int(idx.size / timeIndexEntryWidth)
}

func (idx *timeIndex) entryAt(i int) (relativeOffset uint32, timestampUs uint64) {
	off := uint64(i) * timeIndexEntryWidth
	return getUint32(idx.mmap[off:]), getUint64(idx.mmap[off+4:])
}

// search returns the index of the first entry whose timestamp is >= target,
// or -1 if none qualify (target is after every batch in this segment).
func (idx *timeIndex) search(target uint64) int {
	n := idx.entryCount()
	lo, hi, result := 0, n-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		_, ts := idx.entryAt(mid)
		if ts >= target {
			result = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return result
}

func (idx *timeIndex) Sync() error {
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return errors.Wrap(err, "sync timeindex mmap")
	}
	return idx.file.Sync()
}

func (idx *timeIndex) Close() error {
	if err := idx.Sync(); err != nil {
		return err
	}
	if err := idx.file.Truncate(int64(idx.size)); err != nil {
		return errors.Wrap(err, "truncate timeindex to size")
	}
	if err := idx.mmap.UnsafeUnmap(); err != nil {
		return errors.Wrap(err, "unmap timeindex")
	}
	return idx.file.Close()
}

func putUint32(b gommap.MMap, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b gommap.MMap) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint64(b gommap.MMap, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b gommap.MMap) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
