package proto

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/streamhouse/broker/internal/brokererr"
)

// CommandPayload is implemented by every command's request body. It mirrors
// the iggy SDK's BytesSerializable + Validatable + Display traits: a
// command serializes to bytes, renders as a delimited string, and
// validates itself before being accepted. Only DeletePartitions can also
// be parsed back from its string form (DeletePartitionsFromString).
type CommandPayload interface {
	Validate() error
	AsBytes() []byte
	String() string
}

// DeletePartitions removes the highest-numbered partitions_count partitions
// of a topic, preserving density (spec §4.5).
type DeletePartitions struct {
	StreamID        uint32
	TopicID         uint32
	PartitionsCount uint32
}

func (c *DeletePartitions) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.TopicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if c.PartitionsCount == 0 {
		return brokererr.New(brokererr.KindInvalidPartitionsCount)
	}
	return nil
}

// AsBytes serializes the command as 3 little-endian u32s: stream_id |
// topic_id | partitions_count. Length is always 12 bytes.
func (c *DeletePartitions) AsBytes() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], c.TopicID)
	binary.LittleEndian.PutUint32(buf[8:12], c.PartitionsCount)
	return buf
}

func (c *DeletePartitions) String() string {
	return fmt.Sprintf("%d|%d|%d", c.StreamID, c.TopicID, c.PartitionsCount)
}

// DeletePartitionsFromBytes decodes a DeletePartitions command and
// validates it, matching the Rust from_bytes contract of rejecting both
// malformed and invalid payloads.
func DeletePartitionsFromBytes(b []byte) (*DeletePartitions, error) {
	if len(b) != 12 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &DeletePartitions{
		StreamID:        binary.LittleEndian.Uint32(b[0:4]),
		TopicID:         binary.LittleEndian.Uint32(b[4:8]),
		PartitionsCount: binary.LittleEndian.Uint32(b[8:12]),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DeletePartitionsFromString decodes the "stream_id|topic_id|partitions_count"
// string form.
func DeletePartitionsFromString(s string) (*DeletePartitions, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	topicID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	partitionsCount, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &DeletePartitions{
		StreamID:        uint32(streamID),
		TopicID:         uint32(topicID),
		PartitionsCount: uint32(partitionsCount),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// CreatePartitions adds partitions_count partitions to a topic, assigning
// dense ids starting at the topic's current max + 1.
type CreatePartitions struct {
	StreamID        uint32
	TopicID         uint32
	PartitionsCount uint32
}

func (c *CreatePartitions) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.TopicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if c.PartitionsCount == 0 {
		return brokererr.New(brokererr.KindInvalidPartitionsCount)
	}
	return nil
}

func (c *CreatePartitions) AsBytes() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], c.TopicID)
	binary.LittleEndian.PutUint32(buf[8:12], c.PartitionsCount)
	return buf
}

func (c *CreatePartitions) String() string {
	return fmt.Sprintf("%d|%d|%d", c.StreamID, c.TopicID, c.PartitionsCount)
}

// CreatePartitionsFromBytes decodes and validates a CreatePartitions
// command, mirroring the same 12-byte layout as DeletePartitions.
func CreatePartitionsFromBytes(b []byte) (*CreatePartitions, error) {
	if len(b) != 12 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &CreatePartitions{
		StreamID:        binary.LittleEndian.Uint32(b[0:4]),
		TopicID:         binary.LittleEndian.Uint32(b[4:8]),
		PartitionsCount: binary.LittleEndian.Uint32(b[8:12]),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// OffsetResponse is the wire form of a consumer's stored offset:
// consumer_id u32 | offset u64 (12 bytes total).
type OffsetResponse struct {
	ConsumerID uint32
	Offset     uint64
}

func (o *OffsetResponse) AsBytes() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], o.ConsumerID)
	binary.LittleEndian.PutUint64(buf[4:12], o.Offset)
	return buf
}

func OffsetResponseFromBytes(b []byte) (*OffsetResponse, error) {
	if len(b) != 12 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	return &OffsetResponse{
		ConsumerID: binary.LittleEndian.Uint32(b[0:4]),
		Offset:     binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}

// ConsumerKind distinguishes an individually-tracked consumer from a
// consumer group (spec §3 ConsumerOffset).
type ConsumerKind uint8

const (
	ConsumerKindIndividual ConsumerKind = 1
	ConsumerKindGroup      ConsumerKind = 2
)

// Consumer identifies the entity whose offset is being stored or read.
type Consumer struct {
	Kind ConsumerKind
	ID   uint32
}

// StoreConsumerOffset persists a consumer's progress within a partition.
type StoreConsumerOffset struct {
	Consumer    Consumer
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Offset      uint64
}

func (c *StoreConsumerOffset) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.TopicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if c.PartitionID == 0 {
		return brokererr.New(brokererr.KindInvalidPartitionID)
	}
	return nil
}

func (c *StoreConsumerOffset) AsBytes() []byte {
	buf := make([]byte, 1+4+4+4+4+8)
	buf[0] = byte(c.Consumer.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], c.Consumer.ID)
	binary.LittleEndian.PutUint32(buf[5:9], c.StreamID)
	binary.LittleEndian.PutUint32(buf[9:13], c.TopicID)
	binary.LittleEndian.PutUint32(buf[13:17], c.PartitionID)
	binary.LittleEndian.PutUint64(buf[17:25], c.Offset)
	return buf
}

func (c *StoreConsumerOffset) String() string {
	return fmt.Sprintf("consumer(%d,%d)|%d|%d|%d|%d", c.Consumer.Kind, c.Consumer.ID, c.StreamID, c.TopicID, c.PartitionID, c.Offset)
}

func StoreConsumerOffsetFromBytes(b []byte) (*StoreConsumerOffset, error) {
	if len(b) != 25 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &StoreConsumerOffset{
		Consumer: Consumer{
			Kind: ConsumerKind(b[0]),
			ID:   binary.LittleEndian.Uint32(b[1:5]),
		},
		StreamID:    binary.LittleEndian.Uint32(b[5:9]),
		TopicID:     binary.LittleEndian.Uint32(b[9:13]),
		PartitionID: binary.LittleEndian.Uint32(b[13:17]),
		Offset:      binary.LittleEndian.Uint64(b[17:25]),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateStream creates a stream namespace, optionally with a caller-chosen
// id (0 means "assign the next dense id").
type CreateStream struct {
	StreamID uint32
	Name     string
}

func (c *CreateStream) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return brokererr.New(brokererr.KindInvalidCommand)
	}
	return nil
}

func (c *CreateStream) AsBytes() []byte {
	buf := make([]byte, 4+4+len(c.Name))
	binary.LittleEndian.PutUint32(buf[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(c.Name)))
	copy(buf[8:], c.Name)
	return buf
}

func (c *CreateStream) String() string {
	return fmt.Sprintf("%d|%s", c.StreamID, c.Name)
}

// CreateStreamFromBytes decodes and validates a CreateStream command.
func CreateStreamFromBytes(b []byte) (*CreateStream, error) {
	if len(b) < 8 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(b[0:4])
	nameLen := int(binary.LittleEndian.Uint32(b[4:8]))
	if len(b) < 8+nameLen {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &CreateStream{StreamID: streamID, Name: string(b[8 : 8+nameLen])}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateTopic creates a topic within a stream with a fixed partition count.
type CreateTopic struct {
	StreamID         uint32
	TopicID          uint32
	Name             string
	PartitionsCount  uint32
	MessageExpiryMs  uint64 // 0 means no expiry
	MaxSizeBytes     uint64 // 0 means unlimited
	ReplicationFactor uint8
}

func (c *CreateTopic) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.PartitionsCount == 0 {
		return brokererr.New(brokererr.KindInvalidPartitionsCount)
	}
	if strings.TrimSpace(c.Name) == "" {
		return brokererr.New(brokererr.KindInvalidCommand)
	}
	if c.ReplicationFactor == 0 {
		return brokererr.New(brokererr.KindInvalidCommand)
	}
	return nil
}

func (c *CreateTopic) AsBytes() []byte {
	buf := make([]byte, 4+4+4+4+8+8+1+len(c.Name))
	binary.LittleEndian.PutUint32(buf[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], c.TopicID)
	binary.LittleEndian.PutUint32(buf[8:12], c.PartitionsCount)
	binary.LittleEndian.PutUint64(buf[12:20], c.MessageExpiryMs)
	binary.LittleEndian.PutUint64(buf[20:28], c.MaxSizeBytes)
	buf[28] = c.ReplicationFactor
	binary.LittleEndian.PutUint32(buf[29:33], uint32(len(c.Name)))
	copy(buf[33:], c.Name)
	return buf
}

func (c *CreateTopic) String() string {
	return fmt.Sprintf("%d|%d|%s|%d", c.StreamID, c.TopicID, c.Name, c.PartitionsCount)
}

// CreateTopicFromBytes decodes and validates a CreateTopic command.
func CreateTopicFromBytes(b []byte) (*CreateTopic, error) {
	if len(b) < 33 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	nameLen := int(binary.LittleEndian.Uint32(b[29:33]))
	if len(b) < 33+nameLen {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &CreateTopic{
		StreamID:          binary.LittleEndian.Uint32(b[0:4]),
		TopicID:           binary.LittleEndian.Uint32(b[4:8]),
		PartitionsCount:   binary.LittleEndian.Uint32(b[8:12]),
		MessageExpiryMs:   binary.LittleEndian.Uint64(b[12:20]),
		MaxSizeBytes:      binary.LittleEndian.Uint64(b[20:28]),
		ReplicationFactor: b[28],
		Name:              string(b[33 : 33+nameLen]),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SendMessages appends a batch of raw payloads to a partition (or lets the
// broker pick one via the Partitioning strategy — balancing across
// partitions is out of scope for the core here; the caller always names a
// partition).
type SendMessages struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Messages    []OutgoingMessage
}

// OutgoingMessage is the client-supplied shape of a not-yet-offset-assigned
// message: the broker assigns Offset and TimestampUs on append.
type OutgoingMessage struct {
	ID      MessageID
	Headers map[string]HeaderValue
	Payload []byte
}

func (c *SendMessages) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.TopicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if len(c.Messages) == 0 {
		return brokererr.New(brokererr.KindInvalidCommand)
	}
	return nil
}

func (c *SendMessages) AsBytes() []byte {
	buf := make([]byte, 0, 16)
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(hdr[4:8], c.TopicID)
	binary.LittleEndian.PutUint32(hdr[8:12], c.PartitionID)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(c.Messages)))
	buf = append(buf, hdr[:]...)
	for _, m := range c.Messages {
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(m.Payload)))
		buf = append(buf, m.ID[:]...)
		buf = append(buf, lb[:]...)
		buf = append(buf, m.Payload...)
	}
	return buf
}

func (c *SendMessages) String() string {
	return fmt.Sprintf("%d|%d|%d|%d messages", c.StreamID, c.TopicID, c.PartitionID, len(c.Messages))
}

// SendMessagesFromBytes decodes and validates a SendMessages command.
func SendMessagesFromBytes(b []byte) (*SendMessages, error) {
	if len(b) < 16 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &SendMessages{
		StreamID:    binary.LittleEndian.Uint32(b[0:4]),
		TopicID:     binary.LittleEndian.Uint32(b[4:8]),
		PartitionID: binary.LittleEndian.Uint32(b[8:12]),
	}
	count := binary.LittleEndian.Uint32(b[12:16])
	pos := 16
	for i := uint32(0); i < count; i++ {
		if pos+16+4 > len(b) {
			return nil, brokererr.New(brokererr.KindInvalidCommand)
		}
		var m OutgoingMessage
		copy(m.ID[:], b[pos:pos+16])
		pos += 16
		payloadLen := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if pos+payloadLen > len(b) {
			return nil, brokererr.New(brokererr.KindInvalidCommand)
		}
		m.Payload = append([]byte(nil), b[pos:pos+payloadLen]...)
		pos += payloadLen
		c.Messages = append(c.Messages, m)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// PollStrategyKind selects how PollMessages resolves its starting point
// (spec §4.3 Polling strategies).
type PollStrategyKind uint8

const (
	PollOffset PollStrategyKind = iota + 1
	PollFirst
	PollLast
	PollNext
	PollTimestamp
)

// PollMessages reads messages from a partition.
type PollMessages struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Strategy    PollStrategyKind
	Value       uint64 // offset or timestamp, meaning depends on Strategy
	Consumer    Consumer
	Count       uint32
	AutoCommit  bool
}

func (c *PollMessages) Validate() error {
	if c.StreamID == 0 {
		return brokererr.New(brokererr.KindInvalidStreamID)
	}
	if c.TopicID == 0 {
		return brokererr.New(brokererr.KindInvalidTopicID)
	}
	if c.Count == 0 {
		return brokererr.New(brokererr.KindInvalidCommand)
	}
	return nil
}

func (c *PollMessages) AsBytes() []byte {
	buf := make([]byte, 4+4+4+1+8+1+4+4+1)
	binary.LittleEndian.PutUint32(buf[0:4], c.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], c.TopicID)
	binary.LittleEndian.PutUint32(buf[8:12], c.PartitionID)
	buf[12] = byte(c.Strategy)
	binary.LittleEndian.PutUint64(buf[13:21], c.Value)
	buf[21] = byte(c.Consumer.Kind)
	binary.LittleEndian.PutUint32(buf[22:26], c.Consumer.ID)
	binary.LittleEndian.PutUint32(buf[26:30], c.Count)
	if c.AutoCommit {
		buf[30] = 1
	}
	return buf
}

func (c *PollMessages) String() string {
	return fmt.Sprintf("%d|%d|%d|strategy=%d|count=%d", c.StreamID, c.TopicID, c.PartitionID, c.Strategy, c.Count)
}

// PollMessagesFromBytes decodes and validates a PollMessages command.
func PollMessagesFromBytes(b []byte) (*PollMessages, error) {
	if len(b) != 31 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	c := &PollMessages{
		StreamID:    binary.LittleEndian.Uint32(b[0:4]),
		TopicID:     binary.LittleEndian.Uint32(b[4:8]),
		PartitionID: binary.LittleEndian.Uint32(b[8:12]),
		Strategy:    PollStrategyKind(b[12]),
		Value:       binary.LittleEndian.Uint64(b[13:21]),
		Consumer: Consumer{
			Kind: ConsumerKind(b[21]),
			ID:   binary.LittleEndian.Uint32(b[22:26]),
		},
		Count:      binary.LittleEndian.Uint32(b[26:30]),
		AutoCommit: b[30] != 0,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
