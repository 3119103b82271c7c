package auth

import (
	"sync"

	"github.com/google/uuid"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/pkg/proto"
)

// TransportKind identifies the transport a session was opened over.
type TransportKind uint8

const (
	TransportTCP TransportKind = iota + 1
	TransportQUIC
	TransportHTTP
)

// Session is a connection's ephemeral identity (spec §3 Session).
type Session struct {
	ClientID      string
	UserID        uint32
	Authenticated bool
	Transport     TransportKind
}

// unauthenticatedAllowlist holds the commands permitted before login (spec
// §4.8: "Unauthenticated commands are restricted to Ping, Login,
// LoginWithToken").
var unauthenticatedAllowlist = map[proto.CommandCode]struct{}{
	proto.CmdPing:          {},
	proto.CmdLogin:         {},
	proto.CmdLoginWithToken: {},
}

// IsAllowedUnauthenticated reports whether code may run without a session
// having authenticated yet.
func IsAllowedUnauthenticated(code proto.CommandCode) bool {
	_, ok := unauthenticatedAllowlist[code]
	return ok
}

// SessionManager tracks live per-connection sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	users    *UserStore
}

// NewSessionManager constructs a SessionManager backed by users.
func NewSessionManager(users *UserStore) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		users:    users,
	}
}

// Open creates a new, unauthenticated session for a freshly accepted
// connection and returns it.
func (m *SessionManager) Open(transport TransportKind) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ClientID: uuid.NewString(), Transport: transport}
	m.sessions[s.ClientID] = s
	return s
}

// Login authenticates username/password against the user store and marks
// the session authenticated (spec §4.8 login).
func (m *SessionManager) Login(session *Session, username, password string) error {
	u, err := m.users.Authenticate(username, password)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.UserID = u.ID
	session.Authenticated = true
	return nil
}

// LoginWithToken authenticates a session via a bearer PAT.
func (m *SessionManager) LoginWithToken(session *Session, rawToken string) error {
	u, err := m.users.AuthenticateToken(rawToken)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.UserID = u.ID
	session.Authenticated = true
	return nil
}

// Logout clears a session's authenticated identity.
func (m *SessionManager) Logout(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.UserID = 0
	session.Authenticated = false
}

// Close removes a session on disconnect.
func (m *SessionManager) Close(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session.ClientID)
}

// RequireAuthenticated is a convenience guard for dispatch: it returns
// NotAuthenticated if the session has not logged in and the command is not
// on the unauthenticated allowlist.
func RequireAuthenticated(session *Session, code proto.CommandCode) error {
	if session.Authenticated || IsAllowedUnauthenticated(code) {
		return nil
	}
	return brokererr.New(brokererr.KindNotAuthenticated)
}
