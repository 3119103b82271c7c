package binary

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

func newTestSystem(t *testing.T) *system.System {
	t.Helper()
	sys, err := system.New(system.Options{
		RootDir:      t.TempDir(),
		RootPassword: "root-pass",
		Logger:       logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func rootSession(t *testing.T, sys *system.System) *auth.Session {
	t.Helper()
	session := sys.Sessions.Open(auth.TransportTCP)
	require.NoError(t, sys.Sessions.Login(session, "iggy", "root-pass"))
	return session
}

func TestDispatchUnknownCommand(t *testing.T) {
	sys := newTestSystem(t)
	d := NewDispatcher(sys, nil)
	session := rootSession(t, sys)

	_, err := d.Dispatch(proto.CommandCode(9999), nil, session)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidCommand, brokererr.KindOf(err))
}

func TestDispatchRequiresAuthentication(t *testing.T) {
	sys := newTestSystem(t)
	d := NewDispatcher(sys, nil)
	session := sys.Sessions.Open(auth.TransportTCP)

	cmd := &proto.CreateStream{StreamID: 1, Name: "s"}
	_, err := d.Dispatch(proto.CmdCreateStream, cmd.AsBytes(), session)
	require.Error(t, err)
	require.Equal(t, brokererr.KindNotAuthenticated, brokererr.KindOf(err))
}

func TestDispatchCreateStreamAndGetStream(t *testing.T) {
	sys := newTestSystem(t)
	d := NewDispatcher(sys, nil)
	session := rootSession(t, sys)

	cmd := &proto.CreateStream{StreamID: 1, Name: "orders"}
	_, err := d.Dispatch(proto.CmdCreateStream, cmd.AsBytes(), session)
	require.NoError(t, err)

	var idBuf [4]byte
	idBuf[0] = 1
	resp, err := d.Dispatch(proto.CmdGetStream, idBuf[:], session)
	require.NoError(t, err)
	require.NotEmpty(t, resp)
}

func TestDispatchSendAndPollMessages(t *testing.T) {
	sys := newTestSystem(t)
	d := NewDispatcher(sys, nil)
	session := rootSession(t, sys)

	createStream := &proto.CreateStream{StreamID: 1, Name: "s"}
	_, err := d.Dispatch(proto.CmdCreateStream, createStream.AsBytes(), session)
	require.NoError(t, err)

	createTopic := &proto.CreateTopic{StreamID: 1, TopicID: 1, Name: "t", PartitionsCount: 1, ReplicationFactor: 1}
	_, err = d.Dispatch(proto.CmdCreateTopic, createTopic.AsBytes(), session)
	require.NoError(t, err)

	send := &proto.SendMessages{
		StreamID: 1, TopicID: 1, PartitionID: 1,
		Messages: []proto.OutgoingMessage{{Payload: []byte("a")}, {Payload: []byte("b")}},
	}
	_, err = d.Dispatch(proto.CmdSendMessages, send.AsBytes(), session)
	require.NoError(t, err)

	poll := &proto.PollMessages{StreamID: 1, TopicID: 1, PartitionID: 1, Strategy: proto.PollOffset, Value: 0, Count: 10}
	resp, err := d.Dispatch(proto.CmdPollMessages, poll.AsBytes(), session)
	require.NoError(t, err)
	require.NotEmpty(t, resp)
}
