package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/state"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// StoreConsumerOffset handles CmdStoreConsumerOffset, grounded on the
// original store_consumer_offset_handler's decode-then-delegate shape.
func StoreConsumerOffset(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.StoreConsumerOffsetFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayPollMessages(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	err = sys.WithReadLock(func() error {
		p, err := sys.Registry.Partition(cmd.StreamID, cmd.TopicID, cmd.PartitionID)
		if err != nil {
			return err
		}
		prevOffset, hadPrev := p.GetConsumerOffset(cmd.Consumer)
		return sys.RecordAndApply(session.UserID, state.CodeStoreConsumerOffset, cmd.AsBytes(),
			func() error {
				return p.StoreConsumerOffset(cmd.Consumer, cmd.Offset)
			},
			func() error {
				if hadPrev {
					return p.StoreConsumerOffset(cmd.Consumer, prevOffset)
				}
				p.DeleteConsumerOffset(cmd.Consumer)
				return nil
			},
		)
	})
	return nil, err
}

// GetConsumerOffset handles CmdGetConsumerOffset: consumer_kind u8 |
// consumer_id u32 | stream_id u32 | topic_id u32 | partition_id u32.
func GetConsumerOffset(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 17 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	consumer := proto.Consumer{
		Kind: proto.ConsumerKind(payload[0]),
		ID:   binary.LittleEndian.Uint32(payload[1:5]),
	}
	streamID := binary.LittleEndian.Uint32(payload[5:9])
	topicID := binary.LittleEndian.Uint32(payload[9:13])
	partitionID := binary.LittleEndian.Uint32(payload[13:17])

	if err := sys.Permissioner.MayPollMessages(session.UserID, streamID); err != nil {
		return nil, err
	}

	var resp []byte
	err := sys.WithReadLock(func() error {
		p, err := sys.Registry.Partition(streamID, topicID, partitionID)
		if err != nil {
			return err
		}
		offset, ok := p.GetConsumerOffset(consumer)
		if !ok {
			return brokererr.New(brokererr.KindResourceNotFound)
		}
		resp = (&proto.OffsetResponse{ConsumerID: consumer.ID, Offset: offset}).AsBytes()
		return nil
	})
	return resp, err
}
