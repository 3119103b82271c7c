// Package cache implements the bounded in-memory batch cache (spec §4.4):
// a global byte budget shared across partitions, LRU-evicted by batch, with
// the most recent batch of every partition pinned so hot-path `Last` polls
// never touch disk.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/pkg/proto"
)

// PartitionKey identifies a partition for cache indexing purposes.
type PartitionKey struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
}

type cachedBatch struct {
	key   PartitionKey
	batch proto.Batch
	size  int
}

// Cache is a bounded, LRU-evicted buffer of recently appended batches,
// shared across all partitions of the broker.
type Cache struct {
	mu sync.Mutex

	limitBytes uint64
	usedBytes  uint64
	enabled    bool

	lru *lru.Cache[uint64, *cachedBatch]
	seq uint64

	// perPartition tracks every entry currently cached for a partition, in
	// insertion order, so the most recent can be pinned against eviction
	// and the oldest cached offset can be reported for the poll fast path.
	perPartition map[PartitionKey][]uint64

	logger *logrus.Logger
}

// Options configures a new Cache.
type Options struct {
	LimitBytes         uint64
	Enabled            bool
	TotalSystemMemory  uint64
	Logger             *logrus.Logger
}

// ErrOversubscribed is returned by New when LimitBytes exceeds the reported
// total system memory (spec §4.4 validation).
var ErrOversubscribed = cacheOversubscribedError{}

type cacheOversubscribedError struct{}

func (cacheOversubscribedError) Error() string { return "cache limit exceeds total system memory" }

// New constructs a Cache. It rejects configurations where LimitBytes is
// greater than TotalSystemMemory outright; exceeding 75% only logs a
// warning, matching the spec's "not an error" wording.
func New(opts Options) (*Cache, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.TotalSystemMemory > 0 && opts.LimitBytes > opts.TotalSystemMemory {
		return nil, ErrOversubscribed
	}
	if opts.TotalSystemMemory > 0 && opts.LimitBytes > opts.TotalSystemMemory*75/100 {
		opts.Logger.WithFields(logrus.Fields{
			"limit_bytes":  opts.LimitBytes,
			"total_memory": opts.TotalSystemMemory,
		}).Warn("cache limit exceeds 75% of total system memory")
	}

	c := &Cache{
		limitBytes:   opts.LimitBytes,
		enabled:      opts.Enabled,
		perPartition: make(map[PartitionKey][]uint64),
		logger:       opts.Logger,
	}

	backing, err := lru.NewWithEvict[uint64, *cachedBatch](1<<20, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = backing
	return c, nil
}

// onEvict is invoked by the underlying LRU on natural eviction; it keeps
// usedBytes and the per-partition index consistent. Eviction of the most
// recent batch for a partition is prevented upstream in Put, so this never
// removes a partition's sole pinned entry.
func (c *Cache) onEvict(seq uint64, b *cachedBatch) {
	c.usedBytes -= uint64(b.size)
	entries := c.perPartition[b.key]
	for i, s := range entries {
		if s == seq {
			c.perPartition[b.key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}

// Put inserts a newly appended batch into the cache. If capacity is
// exceeded, the globally least-recently-used batch is evicted, skipping
// over any partition's last remaining (most recent) entry.
func (c *Cache) Put(key PartitionKey, batch proto.Batch) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(proto.EncodeBatch(nil, &batch))
	c.seq++
	entry := &cachedBatch{key: key, batch: batch, size: size}
	c.lru.Add(c.seq, entry)
	c.perPartition[key] = append(c.perPartition[key], c.seq)
	c.usedBytes += uint64(size)

	for c.limitBytes > 0 && c.usedBytes > c.limitBytes {
		if !c.evictOneExcludingPinned() {
			break
		}
	}
}

// evictOneExcludingPinned removes the oldest cached batch that is not the
// sole remaining entry for its partition. Returns false if nothing could be
// evicted (every cached batch is pinned as its partition's only entry).
func (c *Cache) evictOneExcludingPinned() bool {
	keys := c.lru.Keys()
	for _, seq := range keys {
		entry, ok := c.lru.Peek(seq)
		if !ok {
			continue
		}
		if len(c.perPartition[entry.key]) <= 1 {
			continue
		}
		c.lru.Remove(seq)
		return true
	}
	return false
}

// Get returns cached messages for key starting at fromOffset, up to count
// messages. It returns (nil, false) if fromOffset predates the cached
// window for this partition — callers then fall back to disk.
func (c *Cache) Get(key PartitionKey, fromOffset uint64, count uint32) ([]proto.Message, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs := c.perPartition[key]
	if len(seqs) == 0 {
		return nil, false
	}

	var oldestOffset uint64
	first := true
	var out []proto.Message
	for _, seq := range seqs {
		entry, ok := c.lru.Peek(seq)
		if !ok {
			continue
		}
		if first {
			oldestOffset = entry.batch.BaseOffset
			first = false
		}
		for _, m := range entry.batch.Messages {
			if m.Offset < fromOffset {
				continue
			}
			out = append(out, m)
			if count > 0 && uint32(len(out)) >= count {
				return out, true
			}
		}
	}
	if first || fromOffset < oldestOffset {
		// The requested start predates the cached window: whatever we
		// collected is missing the older offsets, so this must still
		// miss and force the disk fallback rather than return a gap.
		return nil, false
	}
	return out, true
}

// UsedBytes reports current cache occupancy, for metrics/diagnostics.
func (c *Cache) UsedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
