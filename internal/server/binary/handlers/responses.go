package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/streaming/topic"
)

// encodeStreamSummary renders a stream's id, name, and topic count as
// id u32 | topics_count u32 | name_len u32 | name for the GetStream
// read-path response.
func encodeStreamSummary(s *topic.Stream) []byte {
	topics := s.Topics()
	buf := make([]byte, 4+4+4+len(s.Name))
	binary.LittleEndian.PutUint32(buf[0:4], s.ID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(topics)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(s.Name)))
	copy(buf[12:], s.Name)
	return buf
}

// encodeStreamsList concatenates length-prefixed encodeStreamSummary
// entries into a streams listing. No registered command uses it: the
// dispatcher has no GetStreams route.
func encodeStreamsList(streams []*topic.Stream) []byte {
	var out []byte
	for _, s := range streams {
		entry := encodeStreamSummary(s)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(entry)))
		out = append(out, lb[:]...)
		out = append(out, entry...)
	}
	return out
}

// encodeTopicSummary renders a topic's id, name, and partition count.
func encodeTopicSummary(t *topic.Topic) []byte {
	partitionIDs := t.PartitionIDs()
	buf := make([]byte, 4+4+4+len(t.Name))
	binary.LittleEndian.PutUint32(buf[0:4], t.ID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(partitionIDs)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(t.Name)))
	copy(buf[12:], t.Name)
	return buf
}

func encodeTopicsList(topics []*topic.Topic) []byte {
	var out []byte
	for _, t := range topics {
		entry := encodeTopicSummary(t)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(entry)))
		out = append(out, lb[:]...)
		out = append(out, entry...)
	}
	return out
}
