// Package auth implements authentication (C8) and authorization (C7):
// user credentials, personal access tokens, sessions, and the permission
// predicates that gate every command.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/streamhouse/broker/internal/brokererr"
)

// GlobalPermissions grants broker-wide capabilities (spec §3 User).
type GlobalPermissions struct {
	ManageServer bool
	ReadServer   bool
	ManageUsers  bool
	ReadUsers    bool
	ManageStreams bool
	ReadStreams   bool
}

// StreamPermissions overrides GlobalPermissions within one stream's scope.
type StreamPermissions struct {
	ManageStream bool
	ReadStream   bool
	ManageTopics bool
	ReadTopics   bool
	PollMessages bool
	SendMessages bool
}

// User is a broker principal.
type User struct {
	ID                   uint32
	Username             string
	PasswordHash         string
	IsRoot               bool
	Permissions          GlobalPermissions
	PerStreamPermissions map[uint32]StreamPermissions
}

// PersonalAccessToken is a long-lived bearer credential (spec GLOSSARY PAT).
type PersonalAccessToken struct {
	Name      string
	UserID    uint32
	TokenHash string
	Salt      string
	ExpiresAt *time.Time
}

// UserStore holds every broker user and their PATs, guarded by the
// registry's caller (typically the broker-wide lock); this type itself
// adds only the mutex needed for independent login/logout traffic.
type UserStore struct {
	mu    sync.RWMutex
	users map[uint32]*User
	byName map[string]uint32
	tokensByHash map[string]*PersonalAccessToken

	rootID uint32
}

// NewUserStore constructs an empty store and seeds the root user with the
// given password (hashed with bcrypt).
func NewUserStore(rootPassword string) (*UserStore, error) {
	hash, err := HashPassword(rootPassword)
	if err != nil {
		return nil, err
	}
	s := &UserStore{
		users:        make(map[uint32]*User),
		byName:       make(map[string]uint32),
		tokensByHash: make(map[string]*PersonalAccessToken),
		rootID:       1,
	}
	s.users[1] = &User{
		ID:           1,
		Username:     "iggy",
		PasswordHash: hash,
		IsRoot:       true,
	}
	s.byName["iggy"] = 1
	return s, nil
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", brokererr.Wrap(brokererr.KindInvalidCommand, err, "hash password")
	}
	return string(b), nil
}

// CreateUser adds a new user with a unique username.
func (s *UserStore) CreateUser(id uint32, username, password string, perms GlobalPermissions) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, brokererr.New(brokererr.KindResourceAlreadyExists)
	}
	if id == 0 {
		var max uint32
		for existingID := range s.users {
			if existingID > max {
				max = existingID
			}
		}
		id = max + 1
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:                   id,
		Username:             username,
		PasswordHash:         hash,
		Permissions:          perms,
		PerStreamPermissions: make(map[uint32]StreamPermissions),
	}
	s.users[id] = u
	s.byName[username] = id
	return u, nil
}

// DeleteUser removes a user by id. The root user cannot be deleted.
func (s *UserStore) DeleteUser(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return brokererr.New(brokererr.KindResourceNotFound)
	}
	if u.IsRoot {
		return brokererr.New(brokererr.KindUnauthorized)
	}
	delete(s.users, id)
	delete(s.byName, u.Username)
	return nil
}

// UpdateUsername renames a user, enforcing the same uniqueness constraint
// as CreateUser.
func (s *UserStore) UpdateUsername(id uint32, newUsername string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return brokererr.New(brokererr.KindResourceNotFound)
	}
	if existingID, exists := s.byName[newUsername]; exists && existingID != id {
		return brokererr.New(brokererr.KindResourceAlreadyExists)
	}
	delete(s.byName, u.Username)
	u.Username = newUsername
	s.byName[newUsername] = id
	return nil
}

// ChangePassword updates a user's stored password hash.
func (s *UserStore) ChangePassword(id uint32, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return brokererr.New(brokererr.KindResourceNotFound)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// Authenticate verifies username/password in constant time via bcrypt's
// comparison and returns the matching user (spec §4.8 login).
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byName[username]
	if !ok {
		s.mu.RUnlock()
		return nil, brokererr.New(brokererr.KindResourceNotFound)
	}
	u := s.users[id]
	s.mu.RUnlock()

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, brokererr.New(brokererr.KindUnauthorized)
	}
	return u, nil
}

// User looks up a user by id.
func (s *UserStore) User(id uint32) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, brokererr.New(brokererr.KindResourceNotFound)
	}
	return u, nil
}

// CreatePersonalAccessToken mints a new PAT for userID, returning the
// plaintext token (shown to the caller once; only its salted hash is
// stored).
func (s *UserStore) CreatePersonalAccessToken(userID uint32, name string, expiresAt *time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return "", brokererr.New(brokererr.KindResourceNotFound)
	}

	raw := uuid.NewString()
	salt := uuid.NewString()
	hash := hashToken(raw, salt)

	s.tokensByHash[hash] = &PersonalAccessToken{
		Name:      name,
		UserID:    userID,
		TokenHash: hash,
		Salt:      salt,
		ExpiresAt: expiresAt,
	}
	return raw, nil
}

// DeletePersonalAccessToken revokes a PAT by name for a given user.
func (s *UserStore) DeletePersonalAccessToken(userID uint32, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, pat := range s.tokensByHash {
		if pat.UserID == userID && pat.Name == name {
			delete(s.tokensByHash, hash)
			return nil
		}
	}
	return brokererr.New(brokererr.KindResourceNotFound)
}

// AuthenticateToken validates a bearer PAT, rejecting expired tokens, and
// returns the owning user.
func (s *UserStore) AuthenticateToken(rawToken string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for hash, pat := range s.tokensByHash {
		if hashToken(rawToken, pat.Salt) != hash {
			continue
		}
		if pat.ExpiresAt != nil && time.Now().After(*pat.ExpiresAt) {
			return nil, brokererr.New(brokererr.KindUnauthorized)
		}
		u, ok := s.users[pat.UserID]
		if !ok {
			return nil, brokererr.New(brokererr.KindUnauthorized)
		}
		return u, nil
	}
	return nil, brokererr.New(brokererr.KindUnauthorized)
}

func hashToken(raw, salt string) string {
	h := sha256.Sum256([]byte(salt + raw))
	return hex.EncodeToString(h[:])
}

// randomSalt is retained for callers that want a standalone salt without
// minting a full token (e.g. pre-provisioning).
func randomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
