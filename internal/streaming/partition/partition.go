// Package partition implements the ordered segment chain that backs one
// partition's message stream (spec §4.3): offset assignment, segment
// rollover, consumer offset bookkeeping, and cache integration.
package partition

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/cache"
	"github.com/streamhouse/broker/internal/streaming/segment"
	"github.com/streamhouse/broker/pkg/proto"
)

// RolloverPolicy bounds an active segment's lifetime (spec §4.3 Rollover
// policy): it fires when size, message count, or age crosses a threshold.
type RolloverPolicy struct {
	MaxSizeBytes    uint32
	MaxMessageCount uint32
	MaxAge          time.Duration
}

// StateRecorder durably records consumer-offset changes, mirroring the
// broker-wide state log (C6) without this package depending on it directly.
type StateRecorder interface {
	RecordConsumerOffset(stream, topic, partitionID uint32, consumer proto.Consumer, offset uint64) error
}

// Options configures a new Partition.
type Options struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Dir         string
	MaxSegment  uint32
	IndexGranularity uint32
	Rollover    RolloverPolicy
	Cache       *cache.Cache
	State       StateRecorder
	Logger      *logrus.Logger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Partition presents a single logical offset-ordered sequence of messages
// backed by a chain of segments, exactly one of which is active.
type Partition struct {
	mu sync.Mutex

	streamID, topicID, partitionID uint32
	dir                             string
	maxSegment                      uint32
	indexGranularity                uint32
	rollover                        RolloverPolicy
	cache                           *cache.Cache
	state                           StateRecorder
	logger                          *logrus.Logger
	now                             func() time.Time

	segments []*segment.Segment // ordered by start offset; last is active
	messageCountInActive uint32

	consumerOffsets map[consumerKey]uint64
}

type consumerKey struct {
	kind proto.ConsumerKind
	id   uint32
}

// Open loads (or creates, if empty) the segment chain for a partition
// rooted at opts.Dir, with the first segment starting at offset 0.
func Open(opts Options) (*Partition, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.MaxSegment == 0 {
		opts.MaxSegment = segment.MaxSizeBytes
	}

	p := &Partition{
		streamID:         opts.StreamID,
		topicID:          opts.TopicID,
		partitionID:      opts.PartitionID,
		dir:              opts.Dir,
		maxSegment:       opts.MaxSegment,
		indexGranularity: opts.IndexGranularity,
		rollover:         opts.Rollover,
		cache:            opts.Cache,
		state:            opts.State,
		logger:           opts.Logger,
		now:              opts.now,
		consumerOffsets:  make(map[consumerKey]uint64),
	}

	seg, err := segment.Open(segment.Options{
		StartOffset:      0,
		Dir:              opts.Dir,
		MaxSize:          opts.MaxSegment,
		IndexGranularity: opts.IndexGranularity,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.segments = []*segment.Segment{seg}
	return p, nil
}

func (p *Partition) key() cache.PartitionKey {
	return cache.PartitionKey{StreamID: p.streamID, TopicID: p.topicID, PartitionID: p.partitionID}
}

// active returns the current writable tail segment.
func (p *Partition) active() *segment.Segment {
	return p.segments[len(p.segments)-1]
}

// CurrentOffset returns the offset of the last message in the partition.
func (p *Partition) CurrentOffset() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().CurrentOffset()
}

// Append assigns dense offsets to messages starting at current_offset + 1
// (or at the active segment's start offset, 0 for a new partition, while
// the partition holds no messages), groups them into one batch, and forwards to the active segment. If the
// active segment is full, it seals and rolls to a new one, retrying once,
// atomically under the partition lock (spec §4.3 Append contract).
func (p *Partition) Append(producerID uint64, messages []proto.Message) (baseOffset, lastOffset uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(messages) == 0 {
		return 0, 0, brokererr.New(brokererr.KindInvalidCommand)
	}

	active := p.active()
	next := active.CurrentOffset() + 1
	if active.SizeBytes() == 0 && !p.segmentHasEverAppended(active) {
		next = active.StartOffset()
	}

	nowUs := uint64(p.now().UnixMicro())
	for i := range messages {
		messages[i].Offset = next + uint64(i)
		if messages[i].TimestampUs == 0 {
			messages[i].TimestampUs = nowUs
		}
	}
	batch := proto.NewBatch(next, messages[0].TimestampUs, producerID, messages)

	if err := p.appendBatchWithRollover(batch); err != nil {
		return 0, 0, err
	}

	if p.cache != nil {
		p.cache.Put(p.key(), *batch)
	}
	return batch.BaseOffset, batch.LastOffset(), nil
}

// segmentHasEverAppended distinguishes "brand new, empty" from "rolled
// back to its start offset", which cannot happen here but guards the
// nextExpectedOffset computation against an ambiguous empty-active state.
func (p *Partition) segmentHasEverAppended(s *segment.Segment) bool {
	return s.CurrentOffset() != s.StartOffset() || s.SizeBytes() > 0
}

func (p *Partition) appendBatchWithRollover(batch *proto.Batch) error {
	active := p.active()
	if err := active.Append(batch); err != nil {
		if brokererr.KindOf(err) != brokererr.KindSegmentFull {
			return err
		}
		if err := p.rollSegment(); err != nil {
			return err
		}
		p.messageCountInActive = 0
		active = p.active()
		if err := active.Append(batch); err != nil {
			return err
		}
	}
	p.messageCountInActive += uint32(len(batch.Messages))
	p.maybeRolloverAfterAppend()
	return nil
}

// maybeRolloverAfterAppend rolls the segment proactively once the active
// segment crosses a rollover threshold, so the next append starts clean
// rather than discovering SegmentFull reactively.
func (p *Partition) maybeRolloverAfterAppend() {
	active := p.active()
	needsRoll := false
	if p.rollover.MaxSizeBytes > 0 && active.SizeBytes() >= p.rollover.MaxSizeBytes {
		needsRoll = true
	}
	if p.rollover.MaxMessageCount > 0 && p.messageCountInActive >= p.rollover.MaxMessageCount {
		needsRoll = true
	}
	if p.rollover.MaxAge > 0 {
		oldest := active.OldestBatchTimestampUs()
		if oldest > 0 && p.now().Sub(time.UnixMicro(int64(oldest))) >= p.rollover.MaxAge {
			needsRoll = true
		}
	}
	if needsRoll {
		if err := p.rollSegment(); err != nil {
			p.logger.WithError(err).Warn("proactive rollover failed")
			return
		}
		p.messageCountInActive = 0
	}
}

// rollSegment seals the active segment and opens a new one starting at
// current_offset + 1.
func (p *Partition) rollSegment() error {
	active := p.active()
	if err := active.Seal(); err != nil {
		return err
	}
	newStart := active.CurrentOffset() + 1
	seg, err := segment.Open(segment.Options{
		StartOffset:      newStart,
		Dir:              p.dir,
		MaxSize:          p.maxSegment,
		IndexGranularity: p.indexGranularity,
		Logger:           p.logger,
	})
	if err != nil {
		return err
	}
	p.segments = append(p.segments, seg)
	return nil
}

// PollStrategy selects how Poll resolves its starting offset.
type PollStrategy struct {
	Kind       proto.PollStrategyKind
	Value      uint64 // offset or timestamp, depending on Kind
	Consumer   proto.Consumer
	AutoCommit bool
}

// Poll returns up to count messages per the requested strategy, strictly
// increasing in offset (spec §4.3 Polling strategies).
func (p *Partition) Poll(strategy PollStrategy, count uint32) ([]proto.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fromOffset uint64
	switch strategy.Kind {
	case proto.PollOffset:
		fromOffset = strategy.Value
	case proto.PollFirst:
		fromOffset = p.segments[0].StartOffset()
	case proto.PollLast:
		current := p.active().CurrentOffset()
		if count == 0 {
			count = 1
		}
		if current+1 < uint64(count) {
			fromOffset = 0
		} else {
			fromOffset = current + 1 - uint64(count)
		}
	case proto.PollNext:
		stored := p.consumerOffsets[consumerKey{strategy.Consumer.Kind, strategy.Consumer.ID}]
		fromOffset = stored + 1
	case proto.PollTimestamp:
		off, err := p.resolveTimestamp(strategy.Value)
		if err != nil {
			return nil, err
		}
		fromOffset = off
	default:
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}

	messages, err := p.readFrom(fromOffset, count)
	if err != nil {
		return nil, err
	}

	if strategy.Kind == proto.PollNext && strategy.AutoCommit && len(messages) > 0 {
		newOffset := messages[len(messages)-1].Offset
		p.storeConsumerOffsetLocked(strategy.Consumer, newOffset)
	}

	return messages, nil
}

// readFrom consults the cache first. On a cache miss it reads every
// segment holding offsets at or after fromOffset from disk, including
// offsets the cache also holds.
func (p *Partition) readFrom(fromOffset uint64, count uint32) ([]proto.Message, error) {
	if p.cache != nil {
		if msgs, ok := p.cache.Get(p.key(), fromOffset, count); ok {
			return msgs, nil
		}
	}

	var out []proto.Message
	for _, seg := range p.segments {
		if uint64(seg.CurrentOffset()) < fromOffset && seg != p.active() {
			continue
		}
		batches, err := seg.Read(fromOffset, 0)
		if err != nil {
			return nil, err
		}
		for _, b := range batches {
			for _, m := range b.Messages {
				if m.Offset < fromOffset {
					continue
				}
				out = append(out, m)
				if count > 0 && uint32(len(out)) >= count {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (p *Partition) resolveTimestamp(tsUs uint64) (uint64, error) {
	for _, seg := range p.segments {
		off, err := seg.ReadByTimestamp(tsUs)
		if err != nil {
			return 0, err
		}
		if off <= seg.CurrentOffset() {
			return off, nil
		}
	}
	return p.active().CurrentOffset() + 1, nil
}

// StoreConsumerOffset persists offset for consumer; offset must satisfy
// 0 <= offset <= current_offset (spec §4.3 store_consumer_offset).
func (p *Partition) StoreConsumerOffset(consumer proto.Consumer, offset uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset > p.active().CurrentOffset() {
		return brokererr.New(brokererr.KindInvalidOffset)
	}
	return p.storeConsumerOffsetLocked(consumer, offset)
}

func (p *Partition) storeConsumerOffsetLocked(consumer proto.Consumer, offset uint64) error {
	if p.state != nil {
		if err := p.state.RecordConsumerOffset(p.streamID, p.topicID, p.partitionID, consumer, offset); err != nil {
			return err
		}
	}
	p.consumerOffsets[consumerKey{consumer.Kind, consumer.ID}] = offset
	return nil
}

// GetConsumerOffset returns the stored offset for consumer, if any.
func (p *Partition) GetConsumerOffset(consumer proto.Consumer) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.consumerOffsets[consumerKey{consumer.Kind, consumer.ID}]
	return off, ok
}

// DeleteConsumerOffset removes a stored consumer offset. Used to roll back
// a StoreConsumerOffset whose state log record failed to persist.
func (p *Partition) DeleteConsumerOffset(consumer proto.Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumerOffsets, consumerKey{consumer.Kind, consumer.ID})
}

// FlushUnsavedBuffer propagates a flush to the active segment.
func (p *Partition) FlushUnsavedBuffer(fsync bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().Flush(fsync)
}

// Purge deletes every segment except the active one, truncates the active
// to empty, and resets current_offset to its start offset.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.active()
	for _, seg := range p.segments[:len(p.segments)-1] {
		if err := seg.Delete(); err != nil {
			return err
		}
	}
	if err := active.Delete(); err != nil {
		return err
	}

	startOffset := active.StartOffset()
	seg, err := segment.Open(segment.Options{
		StartOffset:      startOffset,
		Dir:              p.dir,
		MaxSize:          p.maxSegment,
		IndexGranularity: p.indexGranularity,
		Logger:           p.logger,
	})
	if err != nil {
		return err
	}
	p.segments = []*segment.Segment{seg}
	p.messageCountInActive = 0
	return nil
}

// SealedSegments returns every sealed (non-active) segment, for use by the
// retention sweeper and archiver.
func (p *Partition) SealedSegments() []*segment.Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*segment.Segment, len(p.segments)-1)
	copy(out, p.segments[:len(p.segments)-1])
	return out
}

// DeleteSegment removes a sealed segment from the chain and disk; it is a
// no-op error (ResourceNotFound) if the segment is unknown or still active.
func (p *Partition) DeleteSegment(startOffset uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := sort.Search(len(p.segments), func(i int) bool {
		return p.segments[i].StartOffset() >= startOffset
	})
	if idx >= len(p.segments)-1 || p.segments[idx].StartOffset() != startOffset {
		return brokererr.New(brokererr.KindResourceNotFound)
	}
	seg := p.segments[idx]
	if err := seg.Delete(); err != nil {
		return err
	}
	p.segments = append(p.segments[:idx], p.segments[idx+1:]...)
	return nil
}

// Dir returns the on-disk directory backing this partition's segments, for
// callers that need to remove it after Close (cascading delete).
func (p *Partition) Dir() string { return p.dir }

// Close releases every segment's file handles.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, seg := range p.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
