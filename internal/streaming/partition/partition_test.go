package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/pkg/proto"
)

func newTestPartition(t *testing.T) *Partition {
	t.Helper()
	p, err := Open(Options{
		StreamID:    1,
		TopicID:     1,
		PartitionID: 1,
		Dir:         t.TempDir(),
		MaxSegment:  1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func plainMessages(payloads ...string) []proto.Message {
	msgs := make([]proto.Message, len(payloads))
	for i, p := range payloads {
		msgs[i] = proto.Message{Payload: []byte(p)}
	}
	return msgs
}

func TestPartitionAppendAndPollOffset(t *testing.T) {
	p := newTestPartition(t)

	base, last, err := p.Append(1, plainMessages("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), base)
	require.Equal(t, uint64(2), last)

	msgs, err := p.Poll(PollStrategy{Kind: proto.PollOffset, Value: 0}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, []byte("a"), msgs[0].Payload)
	require.Equal(t, []byte("c"), msgs[2].Payload)
}

func TestPartitionRolloverOnSize(t *testing.T) {
	p, err := Open(Options{
		StreamID: 1, TopicID: 1, PartitionID: 1,
		Dir:        t.TempDir(),
		MaxSegment: 128,
	})
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 20; i++ {
		_, _, err := p.Append(1, plainMessages("payload-data-here"))
		require.NoError(t, err)
	}

	msgs, err := p.Poll(PollStrategy{Kind: proto.PollFirst}, 1000)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		require.Equal(t, uint64(i), m.Offset)
	}
}

func TestPartitionPollLast(t *testing.T) {
	p := newTestPartition(t)
	for i := 0; i < 10; i++ {
		_, _, err := p.Append(1, plainMessages("x"))
		require.NoError(t, err)
	}

	msgs, err := p.Poll(PollStrategy{Kind: proto.PollLast}, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, uint64(9), msgs[0].Offset)
}

func TestPartitionConsumerOffsetAndNext(t *testing.T) {
	p := newTestPartition(t)
	for i := 0; i < 10; i++ {
		_, _, err := p.Append(1, plainMessages("x"))
		require.NoError(t, err)
	}

	consumer := proto.Consumer{Kind: proto.ConsumerKindIndividual, ID: 42}
	require.NoError(t, p.StoreConsumerOffset(consumer, 5))

	msgs, err := p.Poll(PollStrategy{Kind: proto.PollNext, Consumer: consumer, AutoCommit: true}, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, uint64(6), msgs[0].Offset)
	require.Equal(t, uint64(8), msgs[2].Offset)

	stored, ok := p.GetConsumerOffset(consumer)
	require.True(t, ok)
	require.Equal(t, uint64(8), stored)
}

func TestPartitionStoreConsumerOffsetOutOfRange(t *testing.T) {
	p := newTestPartition(t)
	_, _, err := p.Append(1, plainMessages("x"))
	require.NoError(t, err)

	err = p.StoreConsumerOffset(proto.Consumer{Kind: proto.ConsumerKindIndividual, ID: 1}, 999)
	require.Error(t, err)
}

func TestPartitionPurge(t *testing.T) {
	p, err := Open(Options{StreamID: 1, TopicID: 1, PartitionID: 1, Dir: t.TempDir(), MaxSegment: 128})
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 20; i++ {
		_, _, err := p.Append(1, plainMessages("payload-data-here"))
		require.NoError(t, err)
	}
	require.NoError(t, p.Purge())
	msgs, err := p.Poll(PollStrategy{Kind: proto.PollFirst}, 1000)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
