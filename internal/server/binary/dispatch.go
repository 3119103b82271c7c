// Package binary implements command dispatch (C9): wire framing, command
// decoding, routing to handlers, and response encoding (spec §4.9).
package binary

import (
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/server/binary/handlers"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/proto"
)

// Dispatcher routes decoded commands to their handlers.
type Dispatcher struct {
	system  *system.System
	logger  *logrus.Logger
	routes  map[proto.CommandCode]handlers.Handler
}

// NewDispatcher builds the command routing table (spec §4.9 Dispatch).
func NewDispatcher(sys *system.System, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		system: sys,
		logger: logger,
		routes: map[proto.CommandCode]handlers.Handler{
			proto.CmdPing:                         handlers.Ping,
			proto.CmdLogin:                        handlers.Login,
			proto.CmdLoginWithToken:                handlers.LoginWithToken,
			proto.CmdLogout:                        handlers.Logout,
			proto.CmdCreateStream:                  handlers.CreateStream,
			proto.CmdDeleteStream:                  handlers.DeleteStream,
			proto.CmdGetStream:                     handlers.GetStream,
			proto.CmdCreateTopic:                   handlers.CreateTopic,
			proto.CmdDeleteTopic:                   handlers.DeleteTopic,
			proto.CmdGetTopic:                      handlers.GetTopic,
			proto.CmdGetTopics:                     handlers.GetTopics,
			proto.CmdCreatePartitions:               handlers.CreatePartitions,
			proto.CmdDeletePartitions:               handlers.DeletePartitions,
			proto.CmdSendMessages:                   handlers.SendMessages,
			proto.CmdPollMessages:                   handlers.PollMessages,
			proto.CmdFlushUnsavedBuffer:             handlers.FlushUnsavedBuffer,
			proto.CmdStoreConsumerOffset:            handlers.StoreConsumerOffset,
			proto.CmdGetConsumerOffset:              handlers.GetConsumerOffset,
			proto.CmdCreateUser:                     handlers.CreateUser,
			proto.CmdUpdateUser:                     handlers.UpdateUser,
			proto.CmdDeleteUser:                      handlers.DeleteUser,
			proto.CmdChangePassword:                 handlers.ChangePassword,
			proto.CmdCreatePersonalAccessToken:       handlers.CreatePersonalAccessToken,
			proto.CmdDeletePersonalAccessToken:       handlers.DeletePersonalAccessToken,
		},
	}
}

// Dispatch decodes a single command's authentication/authorization gate
// and routes it to its handler. Unknown codes return InvalidCommand
// without closing the connection (spec §4.9).
func (d *Dispatcher) Dispatch(code proto.CommandCode, payload []byte, session *auth.Session) ([]byte, error) {
	if err := auth.RequireAuthenticated(session, code); err != nil {
		return nil, err
	}

	handler, ok := d.routes[code]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}

	resp, err := handler(payload, session, d.system)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"command": code,
			"client":  session.ClientID,
		}).WithError(err).Debug("command failed")
	}
	return resp, err
}

// ServeConnection runs the request/response loop for one TCP connection
// until it closes or a transport error occurs. Unauthenticated commands
// stay the same connection; malformed frames do not terminate it unless
// the framing itself is corrupt (a length prefix past the frame implies
// a desynchronized stream, which is unrecoverable).
func (d *Dispatcher) ServeConnection(conn net.Conn) {
	defer conn.Close()

	session := d.system.Sessions.Open(auth.TransportTCP)
	defer d.system.Sessions.Close(session)

	for {
		code, payload, err := proto.ReadRequest(conn)
		if err != nil {
			if err != io.EOF {
				d.logger.WithError(err).WithField("client", session.ClientID).Debug("connection read error")
			}
			return
		}

		resp, err := d.Dispatch(code, payload, session)
		status := proto.StatusOK
		if err != nil {
			status = proto.Status(brokererr.KindOf(err))
			resp = nil
		}

		if err := proto.WriteResponse(conn, status, resp); err != nil {
			d.logger.WithError(err).WithField("client", session.ClientID).Debug("connection write error")
			return
		}
	}
}
