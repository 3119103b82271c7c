package handlers

import (
	"encoding/binary"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
)

func decodeLengthPrefixedString(b []byte, pos int) (string, int, error) {
	if pos+4 > len(b) {
		return "", 0, brokererr.New(brokererr.KindInvalidCommand)
	}
	n := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
	pos += 4
	if pos+n > len(b) {
		return "", 0, brokererr.New(brokererr.KindInvalidCommand)
	}
	return string(b[pos : pos+n]), pos + n, nil
}

// CreateUser handles CmdCreateUser: username_len u32 | username |
// password_len u32 | password, mirroring the HTTP CreateUser route's
// validate-then-create shape.
func CreateUser(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if err := sys.Permissioner.MayManageUsers(session.UserID); err != nil {
		return nil, err
	}

	username, pos, err := decodeLengthPrefixedString(payload, 0)
	if err != nil {
		return nil, err
	}
	password, _, err := decodeLengthPrefixedString(payload, pos)
	if err != nil {
		return nil, err
	}

	err = sys.WithWriteLock(func() error {
		_, err := sys.Users.CreateUser(0, username, password, auth.GlobalPermissions{})
		return err
	})
	return nil, err
}

// UpdateUser handles CmdUpdateUser: user_id u32 | username_len u32 |
// username. Only the username is mutable post-creation in this core;
// permission and password changes go through their own commands.
func UpdateUser(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) < 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	if err := sys.Permissioner.MayManageUsers(session.UserID); err != nil {
		return nil, err
	}
	userID := binary.LittleEndian.Uint32(payload[0:4])
	username, _, err := decodeLengthPrefixedString(payload, 4)
	if err != nil {
		return nil, err
	}

	err = sys.WithWriteLock(func() error {
		return sys.Users.UpdateUsername(userID, username)
	})
	return nil, err
}

// DeleteUser handles CmdDeleteUser: user_id u32.
func DeleteUser(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) != 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	if err := sys.Permissioner.MayManageUsers(session.UserID); err != nil {
		return nil, err
	}
	userID := binary.LittleEndian.Uint32(payload)

	err := sys.WithWriteLock(func() error {
		return sys.Users.DeleteUser(userID)
	})
	return nil, err
}

// ChangePassword handles CmdChangePassword: user_id u32 | new_password_len
// u32 | new_password.
func ChangePassword(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	if len(payload) < 4 {
		return nil, brokererr.New(brokererr.KindInvalidCommand)
	}
	userID := binary.LittleEndian.Uint32(payload[0:4])
	newPassword, _, err := decodeLengthPrefixedString(payload, 4)
	if err != nil {
		return nil, err
	}

	if userID != session.UserID {
		if err := sys.Permissioner.MayManageUsers(session.UserID); err != nil {
			return nil, err
		}
	}

	err = sys.WithWriteLock(func() error {
		return sys.Users.ChangePassword(userID, newPassword)
	})
	return nil, err
}

// CreatePersonalAccessToken handles CmdCreatePersonalAccessToken:
// name_len u32 | name. Returns the plaintext token as the response payload
// (shown to the caller once; only its hash is stored server-side).
func CreatePersonalAccessToken(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	name, _, err := decodeLengthPrefixedString(payload, 0)
	if err != nil {
		return nil, err
	}

	var token string
	err = sys.WithWriteLock(func() error {
		var err error
		token, err = sys.Users.CreatePersonalAccessToken(session.UserID, name, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return []byte(token), nil
}

// DeletePersonalAccessToken handles CmdDeletePersonalAccessToken:
// name_len u32 | name.
func DeletePersonalAccessToken(payload []byte, session *auth.Session, sys *system.System) ([]byte, error) {
	name, _, err := decodeLengthPrefixedString(payload, 0)
	if err != nil {
		return nil, err
	}

	err = sys.WithWriteLock(func() error {
		return sys.Users.DeletePersonalAccessToken(session.UserID, name)
	})
	return nil, err
}
