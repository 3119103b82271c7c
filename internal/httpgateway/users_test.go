package httpgateway

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/streaming/system"
)

func newTestGateway(t *testing.T) (*Server, *system.System) {
	t.Helper()
	sys, err := system.New(system.Options{
		RootDir:      t.TempDir(),
		RootPassword: "root-pass",
		Logger:       logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return NewServer(sys, logrus.New()), sys
}

func rootBearerToken(t *testing.T, sys *system.System) string {
	t.Helper()
	token, err := sys.Users.CreatePersonalAccessToken(1, "test", nil)
	require.NoError(t, err)
	return token
}

func TestLoginUserSucceedsWithCorrectPassword(t *testing.T) {
	srv, _ := newTestGateway(t)

	body, _ := json.Marshal(loginUserRequest{Username: "iggy", Password: "root-pass"})
	req := httptest.NewRequest("POST", "/users/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.loginUser(rec, req)

	require.Equal(t, 200, rec.Code)
}

func TestLoginUserFailsWithWrongPassword(t *testing.T) {
	srv, _ := newTestGateway(t)

	body, _ := json.Marshal(loginUserRequest{Username: "iggy", Password: "wrong"})
	req := httptest.NewRequest("POST", "/users/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.loginUser(rec, req)

	require.NotEqual(t, 200, rec.Code)
}

func TestCreateUserRequiresBearerToken(t *testing.T) {
	srv, _ := newTestGateway(t)

	body, _ := json.Marshal(createUserRequest{Username: "alice", Password: "pw123456"})
	req := httptest.NewRequest("POST", "/users", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.createUser(rec, req)

	require.Equal(t, 401, rec.Code)
}

func TestCreateUserSucceedsAsRoot(t *testing.T) {
	srv, sys := newTestGateway(t)
	token := rootBearerToken(t, sys)

	body, _ := json.Marshal(createUserRequest{Username: "alice", Password: "pw123456"})
	req := httptest.NewRequest("POST", "/users", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.createUser(rec, req)

	require.Equal(t, 204, rec.Code)

	_, err := sys.Users.Authenticate("alice", "pw123456")
	require.NoError(t, err)
}

func TestLogoutUserIsStateless(t *testing.T) {
	srv, _ := newTestGateway(t)

	req := httptest.NewRequest("POST", "/users/logout", nil)
	rec := httptest.NewRecorder()
	srv.logoutUser(rec, req)

	require.Equal(t, 204, rec.Code)
}
