package proto

import (
	"encoding/binary"
)

// batchHeaderSize is base_offset(8) + last_offset_delta(4) + batch_length(4)
// + max_timestamp_delta(4) + producer_id(8).
const batchHeaderSize = 8 + 4 + 4 + 4 + 8

// Batch is a contiguous run of messages sharing a base offset. It is the
// unit of append, flush, and index (spec §3).
type Batch struct {
	BaseOffset        uint64
	LastOffsetDelta    uint32
	BaseTimestampUs    uint64
	MaxTimestampDelta  uint32
	ProducerID         uint64
	Messages           []Message
}

// LastOffset returns the offset of the last message in the batch.
func (b *Batch) LastOffset() uint64 {
	return b.BaseOffset + uint64(b.LastOffsetDelta)
}

// NewBatch assembles a batch from a contiguous slice of messages whose
// offsets must already be base+0, base+1, ... in order.
func NewBatch(baseOffset uint64, baseTimestampUs uint64, producerID uint64, messages []Message) *Batch {
	b := &Batch{
		BaseOffset:      baseOffset,
		BaseTimestampUs: baseTimestampUs,
		ProducerID:      producerID,
		Messages:        messages,
	}
	if len(messages) > 0 {
		b.LastOffsetDelta = uint32(len(messages) - 1)
		maxTs := messages[0].TimestampUs
		for _, m := range messages {
			if m.TimestampUs > maxTs {
				maxTs = m.TimestampUs
			}
		}
		if maxTs > baseTimestampUs {
			b.MaxTimestampDelta = uint32(maxTs - baseTimestampUs)
		}
	}
	return b
}

// bodySize is the encoded size of the batch body (everything after
// batch_length), which the wire batch_length field measures.
func (b *Batch) bodySize() int {
	n := 4 + 8 // max_timestamp_delta + producer_id
	for i := range b.Messages {
		n += b.Messages[i].encodedSize()
	}
	return n
}

// EncodeBatch appends the wire form of b to dst and returns the result.
// EncodeBatch never fails.
func EncodeBatch(dst []byte, b *Batch) []byte {
	var hdr [batchHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], b.BaseOffset)
	binary.LittleEndian.PutUint32(hdr[8:12], b.LastOffsetDelta)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(b.bodySize()))
	binary.LittleEndian.PutUint32(hdr[16:20], b.MaxTimestampDelta)
	binary.LittleEndian.PutUint64(hdr[20:28], b.ProducerID)
	dst = append(dst, hdr[:]...)
	for i := range b.Messages {
		dst = EncodeMessage(dst, &b.Messages[i])
	}
	return dst
}

// DecodeBatch decodes one batch from src starting at cursor, returning the
// batch and the number of bytes consumed. It tolerates a truncated trailing
// batch at EOF by returning ErrMalformedFrame, which callers treat as "stop
// here, this is a clean boundary" rather than a corruption.
func DecodeBatch(src []byte, cursor int) (Batch, int, error) {
	if cursor+batchHeaderSize > len(src) {
		return Batch{}, 0, ErrMalformedFrame
	}
	var b Batch
	b.BaseOffset = binary.LittleEndian.Uint64(src[cursor : cursor+8])
	b.LastOffsetDelta = binary.LittleEndian.Uint32(src[cursor+8 : cursor+12])
	batchLength := binary.LittleEndian.Uint32(src[cursor+12 : cursor+16])
	b.MaxTimestampDelta = binary.LittleEndian.Uint32(src[cursor+16 : cursor+20])
	b.ProducerID = binary.LittleEndian.Uint64(src[cursor+20 : cursor+28])

	bodyStart := cursor + batchHeaderSize
	bodyEnd := bodyStart + int(batchLength) - 12 // batchLength counts max_ts_delta+producer_id+messages
	if bodyEnd < bodyStart || bodyEnd > len(src) {
		return Batch{}, 0, ErrMalformedFrame
	}

	messageCount := int(b.LastOffsetDelta) + 1
	messages := make([]Message, 0, messageCount)
	pos := bodyStart
	for pos < bodyEnd {
		m, n, err := DecodeMessage(src, pos)
		if err != nil {
			return Batch{}, 0, err
		}
		messages = append(messages, m)
		pos += n
	}
	b.Messages = messages
	if len(messages) > 0 {
		b.BaseTimestampUs = messages[0].TimestampUs
	}

	return b, pos - cursor, nil
}

// DecodeBatches decodes as many whole batches as are present in src,
// stopping cleanly (without error) at a truncated trailing batch — the
// crash-recovery tail described in spec §4.1.
func DecodeBatches(src []byte) ([]Batch, int) {
	var batches []Batch
	pos := 0
	for pos < len(src) {
		b, n, err := DecodeBatch(src, pos)
		if err != nil {
			break
		}
		batches = append(batches, b)
		pos += n
	}
	return batches, pos
}
