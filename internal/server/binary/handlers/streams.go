package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/state"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// CreateStream handles CmdCreateStream, grounded on the store-then-record
// pattern of the original create_stream_handler: validate, authorize,
// mutate the registry under the write lock, then durably record the
// mutation in the state log (spec §4.6, §5).
func CreateStream(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.CreateStreamFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayManageStreams(session.UserID, 0); err != nil {
		return nil, err
	}

	var createdID uint32
	err = sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeCreateStream, cmd.AsBytes(),
			func() error {
				s, err := sys.Registry.CreateStream(cmd.StreamID, cmd.Name)
				if err != nil {
					return err
				}
				createdID = s.ID
				return nil
			},
			func() error {
				return sys.Registry.DeleteStream(createdID)
			},
		)
	})
	return nil, err
}

// DeleteStream handles CmdDeleteStream.
func DeleteStream(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	streamID := binary.LittleEndian.Uint32(payload)
	if err := sys.Permissioner.MayManageStreams(session.UserID, streamID); err != nil {
		return nil, err
	}

	err := sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeDeleteStream, payload,
			func() error {
				return sys.Registry.DeleteStream(streamID)
			},
			nil, // segments are gone from disk; not cleanly reversible
		)
	})
	return nil, err
}

// GetStream handles CmdGetStream: a read-path lookup requiring only the
// read lock and read-scoped permission.
func GetStream(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
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
		resp = encodeStreamSummary(s)
		return nil
	})
	return resp, err
}
