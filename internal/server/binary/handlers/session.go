package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
)

// Ping handles CmdPing: a no-op liveness check, always allowed
// unauthenticated.
func Ping(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	return nil, nil
}

// loginPayload decodes username_len u32 | username | password_len u32 |
// password from a Login request body.
func decodeLoginPayload(b []byte) (username, password string, err error) {
	if len(b) < 4 {
		return "", "", brokererr.New(brokererr.KindInvalidCommand)
	}
	ulen := int(binary.LittleEndian.Uint32(b[0:4]))
	if len(b) < 4+ulen+4 {
		return "", "", brokererr.New(brokererr.KindInvalidCommand)
	}
	username = string(b[4 : 4+ulen])
	pos := 4 + ulen
	plen := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
	pos += 4
	if len(b) < pos+plen {
		return "", "", brokererr.New(brokererr.KindInvalidCommand)
	}
	password = string(b[pos : pos+plen])
	return username, password, nil
}

// Login handles CmdLogin: authenticates username/password and marks the
// session authenticated (spec §4.8).
func Login(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	username, password, err := decodeLoginPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := sys.Sessions.Login(session, username, password); err != nil {
		return nil, err
	}
	return nil, nil
}

// LoginWithToken handles CmdLoginWithToken: authenticates via a bearer PAT.
func LoginWithToken(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) < 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	tlen := int(binary.LittleEndian.Uint32(payload[0:4]))
	if len(payload) < 4+tlen {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	token := string(payload[4 : 4+tlen])
	if err := sys.Sessions.LoginWithToken(session, token); err != nil {
		return nil, err
	}
	return nil, nil
}

// Logout handles CmdLogout: clears the session's authenticated identity.
func Logout(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	sys.Sessions.Logout(session)
	return nil, nil
}
