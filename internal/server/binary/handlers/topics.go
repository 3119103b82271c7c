package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/state"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// CreateTopic handles CmdCreateTopic.
func CreateTopic(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.CreateTopicFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayManageStreams(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	var createdID uint32
	err = sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeCreateTopic, cmd.AsBytes(),
			func() error {
				t, err := sys.Registry.CreateTopic(cmd.StreamID, cmd.TopicID, cmd.Name, cmd.PartitionsCount,
					cmd.MessageExpiryMs, cmd.MaxSizeBytes, cmd.MaxSizeBytes == 0, cmd.ReplicationFactor)
				if err != nil {
					return err
				}
				createdID = t.ID
				return nil
			},
			func() error {
				return sys.Registry.DeleteTopic(cmd.StreamID, createdID)
			},
		)
	})
	return nil, err
}

// DeleteTopic handles CmdDeleteTopic: stream_id u32 | topic_id u32.
func DeleteTopic(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 8 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(payload[0:4])
	topicID := binary.LittleEndian.Uint32(payload[4:8])
	if err := sys.Permissioner.MayManageStreams(session.UserID, streamID); err != nil {
		return nil, err
	}

	err := sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeDeleteTopic, payload,
			func() error {
				return sys.Registry.DeleteTopic(streamID, topicID)
			},
			nil, // segments are gone from disk; not cleanly reversible
		)
	})
	return nil, err
}

// GetTopic handles CmdGetTopic: stream_id u32 | topic_id u32.
func GetTopic(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 8 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(payload[0:4])
	topicID := binary.LittleEndian.Uint32(payload[4:8])
	if err := sys.Permissioner.MayReadStreams(session.UserID, streamID); err != nil {
		return nil, err
	}

	var resp []byte
	err := sys.WithReadLock(func() error {
		t, err := sys.Registry.Topic(streamID, topicID)
		if err != nil {
			return err
		}
		resp = encodeTopicSummary(t)
		return nil
	})
	return resp, err
}

// GetTopics handles CmdGetTopics: stream_id u32.
func GetTopics(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(payload)
	if err := sys.Permissioner.MayReadStreams(session.UserID, streamID); err != nil {
		return nil, err
	}

	var resp []byte
	err := sys.WithReadLock(func() error {
		s, err := sys.Registry.Stream(streamID)
		if err != nil {
			return err
		}
		resp = encodeTopicsList(s.Topics())
		return nil
	})
	return resp, err
}
