package cache

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/pkg/proto"
)

func testBatch(baseOffset uint64, payloads ...string) proto.Batch {
	msgs := make([]proto.Message, len(payloads))
	for i, p := range payloads {
		msgs[i] = proto.Message{Offset: baseOffset + uint64(i), TimestampUs: 1000, Payload: []byte(p)}
	}
	b := proto.NewBatch(baseOffset, 1000, 1, msgs)
	return *b
}

func TestNewRejectsOversubscription(t *testing.T) {
	_, err := New(Options{LimitBytes: 2000, TotalSystemMemory: 1000, Enabled: true, Logger: logrus.New()})
	require.ErrorIs(t, err, ErrOversubscribed)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	c, err := New(Options{LimitBytes: 1 << 20, Enabled: true, Logger: logrus.New()})
	require.NoError(t, err)

	key := PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 1}
	c.Put(key, testBatch(0, "a", "b", "c"))

	msgs, ok := c.Get(key, 1, 10)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	require.Equal(t, uint64(1), msgs[0].Offset)
}

func TestGetReturnsFalseWhenDisabled(t *testing.T) {
	c, err := New(Options{LimitBytes: 1 << 20, Enabled: false, Logger: logrus.New()})
	require.NoError(t, err)

	key := PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 1}
	c.Put(key, testBatch(0, "a"))

	_, ok := c.Get(key, 0, 10)
	require.False(t, ok)
}

func TestGetMissOnUnknownPartition(t *testing.T) {
	c, err := New(Options{LimitBytes: 1 << 20, Enabled: true, Logger: logrus.New()})
	require.NoError(t, err)

	_, ok := c.Get(PartitionKey{StreamID: 9, TopicID: 9, PartitionID: 9}, 0, 10)
	require.False(t, ok)
}

func TestEvictionNeverRemovesPartitionsOnlyEntry(t *testing.T) {
	c, err := New(Options{LimitBytes: 1, Enabled: true, Logger: logrus.New()})
	require.NoError(t, err)

	key := PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 1}
	c.Put(key, testBatch(0, "only-entry"))

	// Limit is far below a single batch's size, but the sole entry for
	// this partition must survive eviction.
	_, ok := c.Get(key, 0, 10)
	require.True(t, ok)
}

func TestEvictsOldestAcrossPartitionsUnderPressure(t *testing.T) {
	c, err := New(Options{LimitBytes: 200, Enabled: true, Logger: logrus.New()})
	require.NoError(t, err)

	keyA := PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 1}
	keyB := PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 2}

	c.Put(keyA, testBatch(0, "first-batch-padding-bytes"))
	c.Put(keyA, testBatch(1, "second-batch-padding-bytes"))
	c.Put(keyB, testBatch(0, "third-batch-padding-bytes"))

	require.LessOrEqual(t, c.UsedBytes(), uint64(200)+256)

	// The oldest batch (partition A's first) is the one evicted: A's cached
	// window now starts at offset 1, and B's sole batch is kept.
	_, ok := c.Get(keyA, 0, 10)
	require.False(t, ok)
	_, ok = c.Get(keyB, 0, 10)
	require.True(t, ok)
}

func TestUsedBytesTracksPuts(t *testing.T) {
	c, err := New(Options{LimitBytes: 1 << 20, Enabled: true, Logger: logrus.New()})
	require.NoError(t, err)
	require.Equal(t, uint64(0), c.UsedBytes())

	c.Put(PartitionKey{StreamID: 1, TopicID: 1, PartitionID: 1}, testBatch(0, "a"))
	require.Greater(t, c.UsedBytes(), uint64(0))
}
