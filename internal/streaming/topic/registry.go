// Package topic implements the stream/topic/partition namespace hierarchy
// (spec §4.5): creation, deletion, dense id assignment, and cascading
// delete down to partitions on disk.
package topic

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/cache"
	"github.com/streamhouse/broker/internal/streaming/partition"
)

// RolloverPolicy re-exports partition.RolloverPolicy so callers configuring
// a Registry need not import the partition package directly.
type RolloverPolicy = partition.RolloverPolicy

// MaxSize bounds a topic's total retained size on disk.
type MaxSize struct {
	Unlimited bool
	Bytes     uint64
}

// Topic is the logical channel partitioned N ways (spec §3 Topic).
type Topic struct {
	ID                uint32
	Name              string
	MessageExpiryMs    uint64
	MaxSize            MaxSize
	CompressionAlgo    string
	ReplicationFactor  uint8

	partitions map[uint32]*partition.Partition
}

// Stream is the top-level namespace of topics (spec §3 Stream).
type Stream struct {
	ID     uint32
	Name   string
	topics map[uint32]*Topic
}

// Registry owns every stream, topic, and partition in the broker and
// enforces the namespace invariants of spec §4.5.
type Registry struct {
	mu sync.RWMutex

	rootDir          string
	cache            *cache.Cache
	logger           *logrus.Logger
	maxSegmentBytes  uint32
	indexGranularity uint32
	rollover         partition.RolloverPolicy

	streams map[uint32]*Stream
}

// Options configures a new Registry.
type Options struct {
	RootDir string
	Cache   *cache.Cache
	Logger  *logrus.Logger

	// MaxSegmentBytes and IndexGranularity size every partition's segment
	// files (spec §6 system.segment); zero defaults to segment.MaxSizeBytes
	// and segment.DefaultIndexGranularity.
	MaxSegmentBytes  uint32
	IndexGranularity uint32
	// Rollover bounds an active segment's lifetime before it is proactively
	// sealed (spec §4.3 Rollover policy).
	Rollover partition.RolloverPolicy
}

// New constructs an empty Registry rooted at opts.RootDir.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Registry{
		rootDir:          opts.RootDir,
		cache:            opts.Cache,
		logger:           opts.Logger,
		maxSegmentBytes:  opts.MaxSegmentBytes,
		indexGranularity: opts.IndexGranularity,
		rollover:         opts.Rollover,
		streams:          make(map[uint32]*Stream),
	}
}

func nextDenseID(existing map[uint32]struct{}) uint32 {
	var max uint32
	for id := range existing {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// CreateStream creates a stream with an explicit id (if id != 0) or the
// next dense id. Names must be globally unique.
func (r *Registry) CreateStream(id uint32, name string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		if s.Name == name {
			return nil, brokererr.New(brokererr.KindResourceAlreadyExists)
		}
	}

	if id == 0 {
		existing := make(map[uint32]struct{}, len(r.streams))
		for sid := range r.streams {
			existing[sid] = struct{}{}
		}
		id = nextDenseID(existing)
	} else if _, ok := r.streams[id]; ok {
		return nil, brokererr.New(brokererr.KindResourceAlreadyExists)
	}

	s := &Stream{ID: id, Name: name, topics: make(map[uint32]*Topic)}
	r.streams[id] = s
	return s, nil
}

// DeleteStream deletes a stream and cascades to all its topics and
// partitions, including their on-disk segments.
func (r *Registry) DeleteStream(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return brokererr.New(brokererr.KindResourceNotFound)
	}
	for _, t := range s.topics {
		for _, p := range t.partitions {
			if err := p.Close(); err != nil {
				r.logger.WithError(err).Warn("error closing partition during stream delete")
			}
		}
	}
	streamDir := filepath.Join(r.rootDir, "streams", idString(id))
	if err := os.RemoveAll(streamDir); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "remove stream directory")
	}
	delete(r.streams, id)
	return nil
}

// Stream looks up a stream by id.
func (r *Registry) Stream(id uint32) (*Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, brokererr.New(brokererr.KindResourceNotFound)
	}
	return s, nil
}

// Streams returns every stream, ordered by id.
func (r *Registry) Streams() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateTopic creates a topic under stream with partitionsCount partitions,
// each opened immediately on disk under
// <root>/streams/<stream>/<topic>/<partition>.
func (r *Registry) CreateTopic(streamID, id uint32, name string, partitionsCount uint32, messageExpiryMs, maxSizeBytes uint64, unlimitedSize bool, replicationFactor uint8) (*Topic, error) {
	if partitionsCount < 1 {
		return nil, brokererr.New(brokererr.KindInvalidPartitionsCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidStreamID)
	}
	for _, t := range s.topics {
		if t.Name == name {
			return nil, brokererr.New(brokererr.KindResourceAlreadyExists)
		}
	}

	if id == 0 {
		existing := make(map[uint32]struct{}, len(s.topics))
		for tid := range s.topics {
			existing[tid] = struct{}{}
		}
		id = nextDenseID(existing)
	} else if _, ok := s.topics[id]; ok {
		return nil, brokererr.New(brokererr.KindResourceAlreadyExists)
	}

	t := &Topic{
		ID:                id,
		Name:              name,
		MessageExpiryMs:   messageExpiryMs,
		MaxSize:           MaxSize{Unlimited: unlimitedSize, Bytes: maxSizeBytes},
		ReplicationFactor: replicationFactor,
		partitions:        make(map[uint32]*partition.Partition),
	}

	for pid := uint32(1); pid <= partitionsCount; pid++ {
		p, err := r.openPartition(streamID, id, pid)
		if err != nil {
			return nil, err
		}
		t.partitions[pid] = p
	}

	s.topics[id] = t
	return t, nil
}

func (r *Registry) openPartition(streamID, topicID, partitionID uint32) (*partition.Partition, error) {
	dir := filepath.Join(r.rootDir, "streams", idString(streamID), idString(topicID), idString(partitionID))
	return partition.Open(partition.Options{
		StreamID:         streamID,
		TopicID:          topicID,
		PartitionID:      partitionID,
		Dir:              dir,
		MaxSegment:       r.maxSegmentBytes,
		IndexGranularity: r.indexGranularity,
		Rollover:         r.rollover,
		Cache:            r.cache,
		Logger:           r.logger,
	})
}

func idString(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// DeleteTopic removes a topic and cascades to its partitions.
func (r *Registry) DeleteTopic(streamID, topicID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	t, ok := s.topics[topicID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	for _, p := range t.partitions {
		if err := p.Close(); err != nil {
			r.logger.WithError(err).Warn("error closing partition during topic delete")
		}
	}
	topicDir := filepath.Join(r.rootDir, "streams", idString(streamID), idString(topicID))
	if err := os.RemoveAll(topicDir); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "remove topic directory")
	}
	delete(s.topics, topicID)
	return nil
}

// Topic looks up a topic by stream and topic id.
func (r *Registry) Topic(streamID, topicID uint32) (*Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[streamID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidStreamID)
	}
	t, ok := s.topics[topicID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidTopicID)
	}
	return t, nil
}

// Partition looks up a partition within a topic.
func (r *Registry) Partition(streamID, topicID, partitionID uint32) (*partition.Partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[streamID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidStreamID)
	}
	t, ok := s.topics[topicID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidTopicID)
	}
	p, ok := t.partitions[partitionID]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidPartitionID)
	}
	return p, nil
}

// CreatePartitions adds count new partitions to a topic, continuing the
// dense id sequence.
func (r *Registry) CreatePartitions(streamID, topicID, count uint32) error {
	if count < 1 {
		return brokererr.New(brokererr.KindInvalidPartitionsCount)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	t, ok := s.topics[topicID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}

	existing := make(map[uint32]struct{}, len(t.partitions))
	for pid := range t.partitions {
		existing[pid] = struct{}{}
	}
	next := nextDenseID(existing)
	for i := uint32(0); i < count; i++ {
		pid := next + i
		p, err := r.openPartition(streamID, topicID, pid)
		if err != nil {
			return err
		}
		t.partitions[pid] = p
	}
	return nil
}

// DeletePartitions removes the count highest-numbered partitions from a
// topic, preserving id density (spec §4.5 delete_partitions).
func (r *Registry) DeletePartitions(streamID, topicID, count uint32) error {
	if streamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if topicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if count < 1 {
		return brokererr.New(brokererr.KindInvalidPartitionsCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	t, ok := s.topics[topicID]
	if !ok {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}

	ids := make([]uint32, 0, len(t.partitions))
	for pid := range t.partitions {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	n := int(count)
	if n > len(ids) {
		n = len(ids)
	}
	for _, pid := range ids[:n] {
		p := t.partitions[pid]
		if err := p.Close(); err != nil {
			r.logger.WithError(err).Warn("error closing partition during delete")
		}
		if err := os.RemoveAll(p.Dir()); err != nil {
			return brokererr.Wrap(brokererr.KindIoError, err, "remove partition directory")
		}
		delete(t.partitions, pid)
	}
	return nil
}

// Topics returns every topic of a stream, ordered by id.
func (s *Stream) Topics() []*Topic {
	out := make([]*Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PartitionIDs returns the id of every partition of a topic, in ascending
// order.
func (t *Topic) PartitionIDs() []uint32 {
	out := make([]uint32, 0, len(t.partitions))
	for pid := range t.partitions {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
