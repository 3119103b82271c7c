// Package proto implements the broker's wire and on-disk binary layouts: the
// message and batch codec (spec §4.1), the request/response frame, and the
// command payload types exchanged between client and broker.
//
// All multi-byte integers are little-endian, matching the on-disk segment
// layout so that a batch read from a log file can be written to the wire
// without re-encoding.
package proto

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrMalformedFrame is returned when a byte slice is too short to contain
// the structure being decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownVersion is returned when a version byte is not recognized by
// the decoder.
var ErrUnknownVersion = errors.New("unknown version")

// MessageID is the client-supplied 128-bit message identifier. The broker
// does not deduplicate by it.
type MessageID [16]byte

// Message is one immutable entry in a partition's log.
type Message struct {
	Offset      uint64
	TimestampUs uint64
	ID          MessageID
	Headers     map[string]HeaderValue
	Payload     []byte
}

// HeaderValue is a typed header value. Kind selects which of the value
// fields is populated; only one is ever set.
type HeaderValue struct {
	Kind  HeaderKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
}

// HeaderKind enumerates the supported typed header value kinds.
type HeaderKind uint8

const (
	HeaderKindBool HeaderKind = iota + 1
	HeaderKindInt
	HeaderKindFloat
	HeaderKindString
	HeaderKindBytes
)

// messageFixedSize is the size in bytes of a message's fixed-width fields:
// offset(8) + timestamp(8) + id(16) + length(4) + headers_length(4).
const messageFixedSize = 8 + 8 + 16 + 4 + 4

// encodedSize returns the number of bytes EncodeMessage will write.
func (m *Message) encodedSize() int {
	return messageFixedSize + encodedHeadersSize(m.Headers) + len(m.Payload)
}

// EncodeMessage appends the wire form of m to dst and returns the result.
// EncodeMessage never fails: callers are expected to have validated the
// message's headers (if any) beforehand.
func EncodeMessage(dst []byte, m *Message) []byte {
	var tmp [messageFixedSize]byte
	binary.LittleEndian.PutUint64(tmp[0:8], m.Offset)
	binary.LittleEndian.PutUint64(tmp[8:16], m.TimestampUs)
	copy(tmp[16:32], m.ID[:])
	binary.LittleEndian.PutUint32(tmp[32:36], uint32(len(m.Payload)))
	headersBytes := encodeHeaders(m.Headers)
	binary.LittleEndian.PutUint32(tmp[36:40], uint32(len(headersBytes)))
	dst = append(dst, tmp[:]...)
	dst = append(dst, headersBytes...)
	dst = append(dst, m.Payload...)
	return dst
}

// DecodeMessage decodes one message from src starting at the given cursor,
// returning the message and the number of bytes consumed.
func DecodeMessage(src []byte, cursor int) (Message, int, error) {
	if cursor+messageFixedSize > len(src) {
		return Message{}, 0, ErrMalformedFrame
	}
	var m Message
	m.Offset = binary.LittleEndian.Uint64(src[cursor : cursor+8])
	m.TimestampUs = binary.LittleEndian.Uint64(src[cursor+8 : cursor+16])
	copy(m.ID[:], src[cursor+16:cursor+32])
	payloadLen := int(binary.LittleEndian.Uint32(src[cursor+32 : cursor+36]))
	headersLen := int(binary.LittleEndian.Uint32(src[cursor+36 : cursor+40]))
	pos := cursor + messageFixedSize

	if headersLen > 0 {
		if pos+headersLen > len(src) {
			return Message{}, 0, ErrMalformedFrame
		}
		headers, err := decodeHeaders(src[pos : pos+headersLen])
		if err != nil {
			return Message{}, 0, err
		}
		m.Headers = headers
	}
	pos += headersLen

	if pos+payloadLen > len(src) {
		return Message{}, 0, ErrMalformedFrame
	}
	m.Payload = append([]byte(nil), src[pos:pos+payloadLen]...)
	pos += payloadLen

	return m, pos - cursor, nil
}

// encodeHeaders serializes a headers map as a sequence of
// (key_len u32 | key | kind u8 | value) tuples. A nil/empty map encodes to
// zero bytes.
func encodeHeaders(headers map[string]HeaderValue) []byte {
	if len(headers) == 0 {
		return nil
	}
	var out []byte
	var lenBuf [4]byte
	for key, val := range headers {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
		out = append(out, lenBuf[:]...)
		out = append(out, key...)
		out = append(out, byte(val.Kind))
		out = append(out, encodeHeaderValue(val)...)
	}
	return out
}

func encodeHeaderValue(val HeaderValue) []byte {
	var buf []byte
	switch val.Kind {
	case HeaderKindBool:
		if val.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case HeaderKindInt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(val.Int))
		buf = append(buf, b[:]...)
	case HeaderKindFloat:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(val.Float))
		buf = append(buf, b[:]...)
	case HeaderKindString:
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(val.Str)))
		buf = append(buf, lb[:]...)
		buf = append(buf, val.Str...)
	case HeaderKindBytes:
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(val.Bytes)))
		buf = append(buf, lb[:]...)
		buf = append(buf, val.Bytes...)
	}
	return buf
}

func decodeHeaders(src []byte) (map[string]HeaderValue, error) {
	out := make(map[string]HeaderValue)
	pos := 0
	for pos < len(src) {
		if pos+4 > len(src) {
			return nil, ErrMalformedFrame
		}
		keyLen := int(binary.LittleEndian.Uint32(src[pos : pos+4]))
		pos += 4
		if pos+keyLen+1 > len(src) {
			return nil, ErrMalformedFrame
		}
		key := string(src[pos : pos+keyLen])
		pos += keyLen
		kind := HeaderKind(src[pos])
		pos++
		val, n, err := decodeHeaderValue(kind, src[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		out[key] = val
	}
	return out, nil
}

func decodeHeaderValue(kind HeaderKind, src []byte) (HeaderValue, int, error) {
	switch kind {
	case HeaderKindBool:
		if len(src) < 1 {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		return HeaderValue{Kind: kind, Bool: src[0] != 0}, 1, nil
	case HeaderKindInt:
		if len(src) < 8 {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		return HeaderValue{Kind: kind, Int: int64(binary.LittleEndian.Uint64(src[:8]))}, 8, nil
	case HeaderKindFloat:
		if len(src) < 8 {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		return HeaderValue{Kind: kind, Float: math.Float64frombits(binary.LittleEndian.Uint64(src[:8]))}, 8, nil
	case HeaderKindString:
		if len(src) < 4 {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		n := int(binary.LittleEndian.Uint32(src[:4]))
		if len(src) < 4+n {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		return HeaderValue{Kind: kind, Str: string(src[4 : 4+n])}, 4 + n, nil
	case HeaderKindBytes:
		if len(src) < 4 {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		n := int(binary.LittleEndian.Uint32(src[:4]))
		if len(src) < 4+n {
			return HeaderValue{}, 0, ErrMalformedFrame
		}
		return HeaderValue{Kind: kind, Bytes: append([]byte(nil), src[4:4+n]...)}, 4 + n, nil
	default:
		return HeaderValue{}, 0, ErrMalformedFrame
	}
}

func encodedHeadersSize(headers map[string]HeaderValue) int {
	if len(headers) == 0 {
		return 0
	}
	n := 0
	for key, val := range headers {
		n += 4 + len(key) + 1 + len(encodeHeaderValue(val))
	}
	return n
}
