package auth

import (
	"github.com/streamhouse/broker/internal/brokererr"
)

// Permissioner evaluates authorization decisions per (user, resource,
// operation) as a set of pure predicates (spec §4.7). The root user
// bypasses every check; denial always returns Unauthorized without
// revealing which stage denied it.
type Permissioner struct {
	users *UserStore
}

// NewPermissioner constructs a Permissioner backed by users.
func NewPermissioner(users *UserStore) *Permissioner {
	return &Permissioner{users: users}
}

func (p *Permissioner) deny() error { return brokererr.New(brokererr.KindUnauthorized) }

func (p *Permissioner) user(userID uint32) (*User, error) {
	u, err := p.users.User(userID)
	if err != nil {
		return nil, p.deny()
	}
	return u, nil
}

// MayManageServer gates server-level administrative commands.
func (p *Permissioner) MayManageServer(userID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot || u.Permissions.ManageServer {
		return nil
	}
	return p.deny()
}

// MayManageUsers gates user create/update/delete commands and changing
// another user's password.
func (p *Permissioner) MayManageUsers(userID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot || u.Permissions.ManageUsers {
		return nil
	}
	return p.deny()
}

// MayManageStreams gates stream/topic/partition create/delete.
func (p *Permissioner) MayManageStreams(userID, streamID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot || u.Permissions.ManageStreams {
		return nil
	}
	if sp, ok := u.PerStreamPermissions[streamID]; ok && (sp.ManageStream || sp.ManageTopics) {
		return nil
	}
	return p.deny()
}

// MayReadStreams gates stream/topic listing and lookup.
func (p *Permissioner) MayReadStreams(userID, streamID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot || u.Permissions.ReadStreams {
		return nil
	}
	if sp, ok := u.PerStreamPermissions[streamID]; ok && (sp.ReadStream || sp.ReadTopics) {
		return nil
	}
	return p.deny()
}

// MayPollMessages gates PollMessages against a specific stream.
func (p *Permissioner) MayPollMessages(userID, streamID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot {
		return nil
	}
	if sp, ok := u.PerStreamPermissions[streamID]; ok && sp.PollMessages {
		return nil
	}
	return p.deny()
}

// MaySendMessages gates SendMessages against a specific stream.
func (p *Permissioner) MaySendMessages(userID, streamID uint32) error {
	u, err := p.user(userID)
	if err != nil {
		return err
	}
	if u.IsRoot {
		return nil
	}
	if sp, ok := u.PerStreamPermissions[streamID]; ok && sp.SendMessages {
		return nil
	}
	return p.deny()
}
