// Package compat detects the on-disk batch schema of a segment written by
// an older broker version, so recovery can still decode it. The current
// retained-batch layout is the only schema actually produced today; the
// sampler interface and a legacy stub exist to show how a future layout
// would plug in (spec's SUPPLEMENTED FEATURES, grounded on
// compat/message_conversion/schema_sampler.rs and samplers/message_sampler.rs).
package compat

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/streamhouse/broker/internal/brokererr"
)

// Schema identifies an on-disk batch layout.
type Schema int

const (
	// SchemaRetainedBatch is the current layout produced by
	// pkg/proto.EncodeBatch.
	SchemaRetainedBatch Schema = iota
	// SchemaLegacyMessage is a stub standing in for a pre-batch,
	// one-message-per-index-entry layout this broker never writes but
	// documents as the sampler's extension point.
	SchemaLegacyMessage
)

// Sampler inspects a segment's first on-disk entry to determine which
// schema wrote it.
type Sampler interface {
	TrySample() (Schema, error)
}

// RetainedBatchSampler confirms a segment's log/index pair was written in
// the current batch layout by reading the file position recorded in the
// first index entry and checking that the batch header stored at that
// position in the log carries a base offset matching the segment's start
// offset (grounded on message_sampler.rs's try_sample).
type RetainedBatchSampler struct {
	SegmentStartOffset uint64
	LogPath            string
	IndexPath          string
}

// NewRetainedBatchSampler constructs a sampler for one segment's files.
func NewRetainedBatchSampler(segmentStartOffset uint64, logPath, indexPath string) *RetainedBatchSampler {
	return &RetainedBatchSampler{SegmentStartOffset: segmentStartOffset, LogPath: logPath, IndexPath: indexPath}
}

// TrySample reports SchemaRetainedBatch when the segment's first entry
// decodes as a batch starting at SegmentStartOffset. An empty log file is
// trivially the current schema: there is nothing to misinterpret.
func (s *RetainedBatchSampler) TrySample() (Schema, error) {
	logFile, err := os.Open(s.LogPath)
	if err != nil {
		return 0, brokererr.Wrapf(brokererr.KindIoError, err, "open log file %s", s.LogPath)
	}
	defer logFile.Close()

	info, err := logFile.Stat()
	if err != nil {
		return 0, brokererr.Wrapf(brokererr.KindIoError, err, "stat log file %s", s.LogPath)
	}
	if info.Size() == 0 {
		return SchemaRetainedBatch, nil
	}

	indexFile, err := os.Open(s.IndexPath)
	if err != nil {
		return 0, brokererr.Wrapf(brokererr.KindIoError, err, "open index file %s", s.IndexPath)
	}
	defer indexFile.Close()

	var header [8]byte
	if _, err := indexFile.ReadAt(header[:], 0); err != nil {
		return 0, brokererr.Wrapf(brokererr.KindIoError, err, "read first index entry %s", s.IndexPath)
	}
	position := binary.LittleEndian.Uint32(header[4:8])

	var batchHeader [8]byte
	if _, err := logFile.ReadAt(batchHeader[:], int64(position)); err != nil {
		return 0, brokererr.Wrapf(brokererr.KindIoError, err, "read first batch from log file %s", s.LogPath)
	}

	baseOffset, err := peekBatchBaseOffset(batchHeader[:])
	if err != nil {
		return 0, brokererr.Wrapf(brokererr.KindCorruptState, err, "decode first batch in %s", s.LogPath)
	}
	if baseOffset != s.SegmentStartOffset {
		return 0, brokererr.New(brokererr.KindCorruptState)
	}
	return SchemaRetainedBatch, nil
}

// peekBatchBaseOffset reads just the base offset field off the front of
// an encoded batch, matching pkg/proto.Batch's header layout without
// pulling in a decode of the full batch.
func peekBatchBaseOffset(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, errors.New("buffer too short for a batch header")
	}
	return binary.LittleEndian.Uint64(buf[:8]), nil
}

// LegacyMessageSampler is a stub for a pre-batch on-disk schema this
// broker no longer writes. TrySample always fails: no segment on a
// current install can have been produced by it, so sampling one would
// indicate a corrupt or foreign data directory.
type LegacyMessageSampler struct{}

func (s *LegacyMessageSampler) TrySample() (Schema, error) {
	return 0, brokererr.New(brokererr.KindCorruptState)
}

// Detect tries each known sampler in order, newest schema first, and
// returns the first one that succeeds.
func Detect(segmentStartOffset uint64, logPath, indexPath string) (Schema, error) {
	samplers := []Sampler{
		NewRetainedBatchSampler(segmentStartOffset, logPath, indexPath),
		&LegacyMessageSampler{},
	}
	var lastErr error
	for _, sampler := range samplers {
		schema, err := sampler.TrySample()
		if err == nil {
			return schema, nil
		}
		lastErr = err
	}
	return 0, lastErr
}
