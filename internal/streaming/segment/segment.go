// Package segment implements one partition segment: a `.log` file of
// batches plus its `.index` and `.timeindex` sidecars (spec §3, §4.2).
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/pkg/proto"
)

// MaxSizeBytes is the hard ceiling on a segment's size: file positions are
// stored as u32 index entries, so a segment can never exceed 2^31-1 bytes
// (spec §4.2 Numeric semantics).
const MaxSizeBytes uint32 = (1 << 31) - 1

// DefaultIndexGranularity is the default number of log bytes between
// consecutive `.index` entries.
const DefaultIndexGranularity = 4096

const (
	logFileSuffix       = ".log"
	indexFileSuffix     = ".index"
	timeIndexFileSuffix = ".timeindex"
	sealedMarkerSuffix  = ".sealed"
)

// Options configures a Segment at open time.
type Options struct {
	StartOffset       uint64
	Dir               string
	MaxSize           uint32
	IndexGranularity  uint32
	// MaxIndexEntries bounds the pre-allocated mmap size for the sidecar
	// index files; it defaults to MaxSize/IndexGranularity + a margin.
	MaxIndexEntries uint32
	Logger          *logrus.Logger
}

// Segment owns one partition segment's three backing files and the
// in-memory watermarks describing it (spec §3 Segment).
type Segment struct {
	mu sync.RWMutex

	startOffset   uint64
	currentOffset uint64 // valid once at least one batch has been appended; otherwise equals startOffset-1 conceptually, tracked via hasData
	hasData       bool
	sizeBytes     uint32
	isClosed      bool

	maxSize          uint32
	indexGranularity uint32
	bytesSinceIndex  uint32
	oldestBatchTsUs  uint64

	dir      string
	logFile  *os.File
	index    *offsetIndex
	timeIdx  *timeIndex
	logger   *logrus.Logger
}

// logPath/indexPath/timeIndexPath return the zero-padded (20 digits)
// filenames for a segment starting at startOffset, per spec §6.
func logPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", startOffset, logFileSuffix))
}
func indexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", startOffset, indexFileSuffix))
}
func timeIndexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", startOffset, timeIndexFileSuffix))
}

// Open opens or creates the segment starting at opts.StartOffset, scanning
// the tail of the `.log` file to recover current_offset and size_bytes past
// the last valid batch boundary, truncating any partial trailing batch left
// by a crash, and, when both sidecar indices are found empty, rebuilding
// them from that scan (spec §4.2 open contract).
func Open(opts Options) (*Segment, error) {
	if opts.MaxSize == 0 {
		opts.MaxSize = MaxSizeBytes
	}
	if opts.IndexGranularity == 0 {
		opts.IndexGranularity = DefaultIndexGranularity
	}
	if opts.MaxIndexEntries == 0 {
		opts.MaxIndexEntries = opts.MaxSize/opts.IndexGranularity + 16
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "create segment dir")
	}

	lp := logPath(opts.Dir, opts.StartOffset)
	logFile, err := os.OpenFile(lp, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "open log file")
	}

	idx, err := openOffsetIndex(indexPath(opts.Dir, opts.StartOffset), uint64(opts.MaxIndexEntries)*offsetEntryWidth)
	if err != nil {
		logFile.Close()
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "open index")
	}
	tidx, err := openTimeIndex(timeIndexPath(opts.Dir, opts.StartOffset), uint64(opts.MaxIndexEntries)*timeIndexEntryWidth)
	if err != nil {
		logFile.Close()
		idx.Close()
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "open timeindex")
	}

	s := &Segment{
		startOffset:      opts.StartOffset,
		maxSize:          opts.MaxSize,
		indexGranularity: opts.IndexGranularity,
		dir:              opts.Dir,
		logFile:          logFile,
		index:            idx,
		timeIdx:          tidx,
		logger:           opts.Logger,
	}

	if err := s.recover(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// recover scans the tail of the log file, rebuilding watermarks and (if the
// sidecar indices were empty, i.e. a fresh recovery after losing them)
// the index entries themselves.
func (s *Segment) recover() error {
	fi, err := s.logFile.Stat()
	if err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "stat log file")
	}
	if fi.Size() == 0 {
		return nil
	}

	buf := make([]byte, fi.Size())
	if _, err := s.logFile.ReadAt(buf, 0); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "read log file for recovery")
	}

	batches, consumed := proto.DecodeBatches(buf)
	if consumed < len(buf) {
		s.logger.WithFields(logrus.Fields{
			"start_offset": s.startOffset,
			"truncated_at": consumed,
			"file_size":    len(buf),
		}).Warn("truncating partial trailing batch recovered at startup")
		if err := s.logFile.Truncate(int64(consumed)); err != nil {
			return brokererr.Wrap(brokererr.KindIoError, err, "truncate partial batch")
		}
	}

	rebuildIndex := s.index.entryCount() == 0 && s.timeIdx.entryCount() == 0
	pos := 0
	for _, b := range batches {
		encoded := proto.EncodeBatch(nil, &b)
		if rebuildIndex {
			if err := s.indexBatch(&b, uint32(pos)); err != nil {
				return err
			}
		}
		pos += len(encoded)
		s.currentOffset = b.LastOffset()
		s.hasData = true
		if s.oldestBatchTsUs == 0 {
			s.oldestBatchTsUs = b.BaseTimestampUs
		}
	}
	s.sizeBytes = uint32(consumed)
	return nil
}

// StartOffset returns the segment's base offset.
func (s *Segment) StartOffset() uint64 { return s.startOffset }

// CurrentOffset returns the offset of the last message appended, or
// StartOffset if the segment is empty.
func (s *Segment) CurrentOffset() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasData {
		return s.startOffset
	}
	return s.currentOffset
}

// SizeBytes returns the segment's current size on disk.
func (s *Segment) SizeBytes() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeBytes
}

// IsClosed reports whether the segment has been sealed.
func (s *Segment) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isClosed
}

// OldestBatchTimestampUs returns the base timestamp of the first batch
// still in this segment, used by the partition's age-based rollover policy.
func (s *Segment) OldestBatchTimestampUs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldestBatchTsUs
}

// nextExpectedOffset is the offset the next appended batch must start at.
func (s *Segment) nextExpectedOffset() uint64 {
	if !s.hasData {
		return s.startOffset
	}
	return s.currentOffset + 1
}

// Append writes batch to the segment. batch.BaseOffset must equal
// nextExpectedOffset(). Returns a KindSegmentFull error if the append would
// exceed MaxSize, a KindSegmentClosed error if sealed.
func (s *Segment) Append(batch *proto.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return brokererr.New(brokererr.KindSegmentClosed)
	}
	if batch.BaseOffset != s.nextExpectedOffset() {
		return brokererr.Wrapf(brokererr.KindInvalidOffset, errors.New("offset mismatch"),
			"append base_offset=%d expected=%d", batch.BaseOffset, s.nextExpectedOffset())
	}

	encoded := proto.EncodeBatch(nil, batch)
	if s.sizeBytes+uint32(len(encoded)) > s.maxSize {
		return brokererr.New(brokererr.KindSegmentFull)
	}

	writePos := s.sizeBytes
	if _, err := s.logFile.WriteAt(encoded, int64(writePos)); err != nil {
		s.isClosed = true
		return brokererr.Wrap(brokererr.KindIoError, err, "write batch")
	}

	if err := s.indexBatch(batch, writePos); err != nil {
		s.isClosed = true
		return err
	}

	s.sizeBytes += uint32(len(encoded))
	s.bytesSinceIndex += uint32(len(encoded))
	s.currentOffset = batch.LastOffset()
	s.hasData = true
	if s.oldestBatchTsUs == 0 {
		s.oldestBatchTsUs = batch.BaseTimestampUs
	}
	return nil
}

// indexBatch emits an index pair every IndexGranularity bytes and a
// timeindex pair on every batch (spec §4.2 Append contract).
func (s *Segment) indexBatch(batch *proto.Batch, filePosition uint32) error {
	relOffset := uint32(batch.BaseOffset - s.startOffset)
	if s.bytesSinceIndex >= s.indexGranularity || s.index.entryCount() == 0 {
		if err := s.index.Write(relOffset, filePosition); err != nil && !errors.Is(err, ErrIndexFull) {
			return brokererr.Wrap(brokererr.KindIoError, err, "write index entry")
		}
		s.bytesSinceIndex = 0
	}
	if err := s.timeIdx.Write(relOffset, batch.BaseTimestampUs); err != nil && !errors.Is(err, ErrIndexFull) {
		return brokererr.Wrap(brokererr.KindIoError, err, "write timeindex entry")
	}
	return nil
}

// Read resolves fromOffset via the `.index` (binary search on relative
// offset), seeks the log to the nearest indexed position <= target, decodes
// batches forward, drops batches whose last offset is < fromOffset, and
// stops once maxBytes have been read or EOF is reached. Returns an empty
// slice (not an error) if fromOffset is past CurrentOffset.
func (s *Segment) Read(fromOffset uint64, maxBytes uint32) ([]proto.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData || fromOffset > s.currentOffset {
		return nil, nil
	}

	startPos := uint32(0)
	if fromOffset > s.startOffset {
		relTarget := uint32(fromOffset - s.startOffset)
		if i := s.index.search(relTarget); i >= 0 {
			_, pos := s.index.entryAt(i)
			startPos = pos
		}
	}

	buf := make([]byte, s.sizeBytes-startPos)
	if _, err := s.logFile.ReadAt(buf, int64(startPos)); err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "read log for poll")
	}

	var out []proto.Batch
	var bytesRead uint32
	pos := 0
	for pos < len(buf) {
		b, n, err := proto.DecodeBatch(buf, pos)
		if err != nil {
			// Corrupt or truncated middle batch: return what we decoded so
			// far (spec §4.2 read error semantics).
			break
		}
		pos += n
		if b.LastOffset() < fromOffset {
			continue
		}
		out = append(out, b)
		bytesRead += uint32(n)
		if maxBytes > 0 && bytesRead >= maxBytes {
			break
		}
	}
	return out, nil
}

// ReadByTimestamp binary-searches `.timeindex` then linearly scans forward
// in `.log` until the first batch whose base timestamp is >= ts, returning
// its base offset. Returns CurrentOffset+1 (the next assignable offset) if
// no batch qualifies.
func (s *Segment) ReadByTimestamp(tsUs uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData {
		return s.startOffset, nil
	}

	startPos := uint32(0)
	if i := s.timeIdx.search(tsUs); i > 0 {
		// Back up one entry: the entry search() found is the first with
		// ts >= target, but the batch we want to start scanning from is
		// the one just before it in file position order. The timeindex
		// and offset index are not entry-aligned (the offset index is
		// sparse, the timeindex has one entry per batch), so resolve the
		// earlier entry's relative offset through the offset index to
		// get an actual file position, the same way Read does for
		// offset-based seeks.
		relOff, _ := s.timeIdx.entryAt(i - 1)
		if j := s.index.search(relOff); j >= 0 {
			_, pos := s.index.entryAt(j)
			startPos = pos
		}
	}

	buf := make([]byte, s.sizeBytes-startPos)
	if _, err := s.logFile.ReadAt(buf, int64(startPos)); err != nil {
		return 0, brokererr.Wrap(brokererr.KindIoError, err, "read log for timestamp scan")
	}

	pos := 0
	for pos < len(buf) {
		b, n, err := proto.DecodeBatch(buf, pos)
		if err != nil {
			break
		}
		if b.BaseTimestampUs >= tsUs {
			return b.BaseOffset, nil
		}
		pos += n
	}
	return s.currentOffset + 1, nil
}

// Seal flushes pending writes and marks the segment read-only. The files
// keep their names and no sealed marker is written to disk, so a reopened
// segment is not known to be sealed. Subsequent Append calls fail with a
// KindSegmentClosed error.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return nil
	}
	if err := s.flushLocked(true); err != nil {
		return err
	}
	s.isClosed = true
	s.logger.WithFields(logrus.Fields{
		"start_offset":   s.startOffset,
		"current_offset": s.currentOffset,
		"size_bytes":     s.sizeBytes,
	}).Info("segment sealed")
	return nil
}

// Flush writes buffered bytes; if fsync is true, durably persists before
// returning.
func (s *Segment) Flush(fsync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(fsync)
}

func (s *Segment) flushLocked(fsync bool) error {
	if err := s.index.Sync(); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "sync index")
	}
	if err := s.timeIdx.Sync(); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "sync timeindex")
	}
	if fsync {
		if err := s.logFile.Sync(); err != nil {
			return brokererr.Wrap(brokererr.KindIoError, err, "fsync log")
		}
	}
	return nil
}

// Close releases the segment's file handles without deleting any data.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if err := s.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.timeIdx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Delete closes the segment and removes its backing files from disk.
func (s *Segment) Delete() error {
	if err := s.Close(); err != nil {
		return err
	}
	for _, p := range []string{
		logPath(s.dir, s.startOffset),
		indexPath(s.dir, s.startOffset),
		timeIndexPath(s.dir, s.startOffset),
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return brokererr.Wrap(brokererr.KindIoError, err, "delete segment file")
		}
	}
	return nil
}

// LogFilePath returns the path of this segment's `.log` file, used by the
// retention sweeper and archiver to name files for archival.
func (s *Segment) LogFilePath() string { return logPath(s.dir, s.startOffset) }
