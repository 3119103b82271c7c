package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/pkg/proto"
)

func newTestStore(t *testing.T) *UserStore {
	t.Helper()
	s, err := NewUserStore("root-pass")
	require.NoError(t, err)
	return s
}

func TestAuthenticateRoot(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Authenticate("iggy", "root-pass")
	require.NoError(t, err)
	require.True(t, u.IsRoot)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Authenticate("iggy", "wrong")
	require.Error(t, err)
	require.Equal(t, brokererr.KindUnauthorized, brokererr.KindOf(err))
}

func TestCreateUserDuplicateName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser(0, "alice", "pw", GlobalPermissions{})
	require.NoError(t, err)

	_, err = s.CreateUser(0, "alice", "pw2", GlobalPermissions{})
	require.Error(t, err)
	require.Equal(t, brokererr.KindResourceAlreadyExists, brokererr.KindOf(err))
}

func TestPersonalAccessTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser(0, "alice", "pw", GlobalPermissions{})
	require.NoError(t, err)

	raw, err := s.CreatePersonalAccessToken(u.ID, "ci", nil)
	require.NoError(t, err)

	got, err := s.AuthenticateToken(raw)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.AuthenticateToken("not-a-real-token")
	require.Error(t, err)
}

func TestSessionLoginAndAllowlist(t *testing.T) {
	s := newTestStore(t)
	mgr := NewSessionManager(s)
	session := mgr.Open(TransportTCP)

	require.Error(t, RequireAuthenticated(session, proto.CmdSendMessages))
	require.NoError(t, RequireAuthenticated(session, proto.CmdPing))
	require.NoError(t, RequireAuthenticated(session, proto.CmdLogin))

	require.NoError(t, mgr.Login(session, "iggy", "root-pass"))
	require.NoError(t, RequireAuthenticated(session, proto.CmdSendMessages))

	mgr.Logout(session)
	require.Error(t, RequireAuthenticated(session, proto.CmdSendMessages))
}

func TestPermissionerRootBypasses(t *testing.T) {
	s := newTestStore(t)
	p := NewPermissioner(s)

	require.NoError(t, p.MayManageServer(1))
	require.NoError(t, p.MayManageStreams(1, 99))
}

func TestPermissionerDeniesByDefault(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser(0, "alice", "pw", GlobalPermissions{})
	require.NoError(t, err)
	p := NewPermissioner(s)

	err = p.MayManageStreams(u.ID, 1)
	require.Error(t, err)
	require.Equal(t, brokererr.KindUnauthorized, brokererr.KindOf(err))
}
