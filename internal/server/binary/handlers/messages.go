package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/partition"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// SendMessages handles CmdSendMessages. Per spec §5, per-partition append
// is serialized by a mutex nested inside the broker-wide read lock, so
// structural changes (write lock) still block it but other partitions'
// appends proceed in parallel.
func SendMessages(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.SendMessagesFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MaySendMessages(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	err = sys.WithReadLock(func() error {
		p, err := sys.Registry.Partition(cmd.StreamID, cmd.TopicID, cmd.PartitionID)
		if err != nil {
			return err
		}
		msgs := make([]proto.Message, len(cmd.Messages))
		for i, om := range cmd.Messages {
			msgs[i] = proto.Message{ID: om.ID, Headers: om.Headers, Payload: om.Payload}
		}
		_, _, err = p.Append(0, msgs)
		return err
	})
	return nil, err
}

// PollMessages handles CmdPollMessages.
func PollMessages(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.PollMessagesFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayPollMessages(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	var resp []byte
	err = sys.WithReadLock(func() error {
		p, err := sys.Registry.Partition(cmd.StreamID, cmd.TopicID, cmd.PartitionID)
		if err != nil {
			return err
		}
		msgs, err := p.Poll(partition.PollStrategy{
			Kind:       cmd.Strategy,
			Value:      cmd.Value,
			Consumer:   cmd.Consumer,
			AutoCommit: cmd.AutoCommit,
		}, cmd.Count)
		if err != nil {
			return err
		}
		resp = encodeMessages(msgs)
		return nil
	})
	return resp, err
}

func encodeMessages(msgs []proto.Message) []byte {
	var buf []byte
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(msgs)))
	buf = append(buf, countBuf[:]...)
	for i := range msgs {
		buf = proto.EncodeMessage(buf, &msgs[i])
	}
	return buf
}

// FlushUnsavedBuffer handles CmdFlushUnsavedBuffer: stream_id u32 |
// topic_id u32 | partition_id u32 | fsync u8.
func FlushUnsavedBuffer(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 13 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(payload[0:4])
	topicID := binary.LittleEndian.Uint32(payload[4:8])
	partitionID := binary.LittleEndian.Uint32(payload[8:12])
	fsync := payload[12] != 0

	if err := sys.Permissioner.MaySendMessages(session.UserID, streamID); err != nil {
		return nil, err
	}

	err := sys.WithReadLock(func() error {
		p, err := sys.Registry.Partition(streamID, topicID, partitionID)
		if err != nil {
			return err
		}
		return p.FlushUnsavedBuffer(fsync)
	})
	return nil, err
}
