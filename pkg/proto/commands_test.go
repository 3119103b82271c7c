package proto

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDeletePartitionsWireLayout(t *testing.T) {
	c := &DeletePartitions{StreamID: 1, TopicID: 2, PartitionsCount: 3}
	b := c.AsBytes()
	require.Equal(t, []byte{
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
	}, b)

	decoded, err := DeletePartitionsFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, c, decoded)

	require.Equal(t, "1|2|3", c.String())
	fromString, err := DeletePartitionsFromString(c.String())
	require.NoError(t, err)
	require.Equal(t, c, fromString)
}

func TestDeletePartitionsValidation(t *testing.T) {
	_, err := DeletePartitionsFromString("0|2|3")
	require.Error(t, err)

	_, err = DeletePartitionsFromString("1|0|3")
	require.Error(t, err)

	_, err = DeletePartitionsFromString("1|2|0")
	require.Error(t, err)
}

func TestOffsetResponseWireLayout(t *testing.T) {
	o := &OffsetResponse{ConsumerID: 7, Offset: 99}
	b := o.AsBytes()
	require.Equal(t, []byte{
		0x07, 0x00, 0x00, 0x00,
		0x63, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}, b)

	decoded, err := OffsetResponseFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, o, decoded)
}

func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		Offset:      5,
		TimestampUs: 12345,
		Payload:     []byte("hello"),
		Headers: map[string]HeaderValue{
			"k": {Kind: HeaderKindString, Str: "v"},
		},
	}
	encoded := EncodeMessage(nil, &m)
	decoded, n, err := DecodeMessage(encoded, 0)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	if diff := cmp.Diff(m, *decoded); diff != "" {
		t.Fatalf("decoded message differs from original (-want +got):\n%s", diff)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	b := NewBatch(10, 1000, 1, []Message{
		{Offset: 10, TimestampUs: 1000, Payload: []byte("a")},
		{Offset: 11, TimestampUs: 1001, Payload: []byte("b")},
	})
	encoded := EncodeBatch(nil, b)
	decoded, n, err := DecodeBatch(encoded, 0)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, b.BaseOffset, decoded.BaseOffset)
	require.Len(t, decoded.Messages, 2)
}

func TestDecodeBatchesTruncatedTail(t *testing.T) {
	b := NewBatch(0, 1000, 1, []Message{{Offset: 0, TimestampUs: 1000, Payload: []byte("a")}})
	encoded := EncodeBatch(nil, b)
	truncated := append(encoded, []byte{1, 2, 3}...)

	batches, consumed := DecodeBatches(truncated)
	if len(batches) != 1 {
		t.Fatalf("expected 1 decoded batch from a truncated tail, got:\n%s", spew.Sdump(batches))
	}
	require.Equal(t, len(encoded), consumed)
}
