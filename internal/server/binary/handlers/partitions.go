package handlers

import (
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/state"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// CreatePartitions handles CmdCreatePartitions.
func CreatePartitions(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.CreatePartitionsFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayManageStreams(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	err = sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeCreatePartitions, cmd.AsBytes(),
			func() error {
				return sys.Registry.CreatePartitions(cmd.StreamID, cmd.TopicID, cmd.PartitionsCount)
			},
			func() error {
				// CreatePartitions always appends PartitionsCount new,
				// highest-numbered, still-empty partitions; undoing it is
				// exactly removing that many from the top.
				return sys.Registry.DeletePartitions(cmd.StreamID, cmd.TopicID, cmd.PartitionsCount)
			},
		)
	})
	return nil, err
}

// DeletePartitions handles CmdDeletePartitions (spec §8 Scenario 4's wire
// layout, decoded by proto.DeletePartitionsFromBytes).
func DeletePartitions(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	cmd, err := proto.DeletePartitionsFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Permissioner.MayManageStreams(session.UserID, cmd.StreamID); err != nil {
		return nil, err
	}

	err = sys.WithWriteLock(func() error {
		return sys.RecordAndApply(session.UserID, state.CodeDeletePartitions, cmd.AsBytes(),
			func() error {
				return sys.Registry.DeletePartitions(cmd.StreamID, cmd.TopicID, cmd.PartitionsCount)
			},
			nil, // segments are gone from disk; not cleanly reversible
		)
	})
	return nil, err
}
