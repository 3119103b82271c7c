package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/pkg/proto"
)

func newTestSegment(t *testing.T, startOffset uint64) *Segment {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		StartOffset:      startOffset,
		Dir:              dir,
		MaxSize:          1 << 20,
		IndexGranularity: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeBatch(baseOffset uint64, n int) *proto.Batch {
	msgs := make([]proto.Message, n)
	for i := range msgs {
		msgs[i] = proto.Message{
			Offset:      baseOffset + uint64(i),
			TimestampUs: 1000 + uint64(i),
			Payload:     []byte("hello"),
		}
	}
	return proto.NewBatch(baseOffset, 1000, 1, msgs)
}

func TestSegmentAppendAndRead(t *testing.T) {
	s := newTestSegment(t, 0)

	require.NoError(t, s.Append(makeBatch(0, 3)))
	require.NoError(t, s.Append(makeBatch(3, 2)))

	require.Equal(t, uint64(4), s.CurrentOffset())

	batches, err := s.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, uint64(0), batches[0].BaseOffset)
	require.Equal(t, uint64(3), batches[1].BaseOffset)
}

func TestSegmentReadFromMiddleOffset(t *testing.T) {
	s := newTestSegment(t, 0)
	require.NoError(t, s.Append(makeBatch(0, 3)))
	require.NoError(t, s.Append(makeBatch(3, 3)))
	require.NoError(t, s.Append(makeBatch(6, 3)))

	batches, err := s.Read(4, 0)
	require.NoError(t, err)
	require.NotEmpty(t, batches)
	require.Equal(t, uint64(3), batches[0].BaseOffset)
}

func TestSegmentReadPastEndReturnsEmpty(t *testing.T) {
	s := newTestSegment(t, 0)
	require.NoError(t, s.Append(makeBatch(0, 1)))

	batches, err := s.Read(100, 0)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestSegmentAppendOffsetMismatch(t *testing.T) {
	s := newTestSegment(t, 0)
	require.NoError(t, s.Append(makeBatch(0, 2)))

	err := s.Append(makeBatch(5, 1))
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidOffset, brokererr.KindOf(err))
}

func TestSegmentSealRejectsFurtherAppends(t *testing.T) {
	s := newTestSegment(t, 0)
	require.NoError(t, s.Append(makeBatch(0, 1)))
	require.NoError(t, s.Seal())

	err := s.Append(makeBatch(1, 1))
	require.Error(t, err)
	require.Equal(t, brokererr.KindSegmentClosed, brokererr.KindOf(err))
}

func TestSegmentFullRejectsAppend(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{
		StartOffset:      0,
		Dir:              dir,
		MaxSize:          64,
		IndexGranularity: 16,
	})
	require.NoError(t, err)
	defer s.Close()

	err = s.Append(makeBatch(0, 5))
	require.Error(t, err)
	require.Equal(t, brokererr.KindSegmentFull, brokererr.KindOf(err))
}

func TestSegmentRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{StartOffset: 0, Dir: dir, MaxSize: 1 << 20, IndexGranularity: 16})
	require.NoError(t, err)
	require.NoError(t, s.Append(makeBatch(0, 3)))
	require.NoError(t, s.Append(makeBatch(3, 2)))
	require.NoError(t, s.Flush(true))
	require.NoError(t, s.Close())

	s2, err := Open(Options{StartOffset: 0, Dir: dir, MaxSize: 1 << 20, IndexGranularity: 16})
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, uint64(4), s2.CurrentOffset())
	batches, err := s2.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
}

func TestSegmentReadByTimestamp(t *testing.T) {
	s := newTestSegment(t, 0)
	b1 := proto.NewBatch(0, 1000, 1, []proto.Message{{Offset: 0, TimestampUs: 1000}})
	b2 := proto.NewBatch(1, 2000, 1, []proto.Message{{Offset: 1, TimestampUs: 2000}})
	require.NoError(t, s.Append(b1))
	require.NoError(t, s.Append(b2))

	offset, err := s.ReadByTimestamp(1500)
	require.NoError(t, err)
	require.Equal(t, uint64(1), offset)
}
