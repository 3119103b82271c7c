// Package httpgateway exposes a thin JSON surface over a subset of
// System's user operations (spec SUPPLEMENTED FEATURES, grounded on
// http/users.rs). The binary protocol (C9) remains the primary and only
// complete transport; this package exists to keep the user-management
// routes the original exposes over HTTP in step with the same System
// methods, not to replicate the full command surface.
package httpgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
)

// Server serves the user-management JSON routes over net/http.
type Server struct {
	system *system.System
	logger *logrus.Logger
}

// NewServer builds an httpgateway.Server backed by sys.
func NewServer(sys *system.System, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{system: sys, logger: logger}
}

// Routes registers the gateway's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/users", s.createUser)
	mux.HandleFunc("/users/login", s.loginUser)
	mux.HandleFunc("/users/logout", s.logoutUser)
}

type createUserRequest struct {
	Username    string                 `json:"username"`
	Password    string                 `json:"password"`
	Permissions auth.GlobalPermissions `json:"permissions"`
}

type loginUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// callerUserID resolves the acting principal from a bearer PAT, the same
// way the binary protocol resolves a session's UserID, since this gateway
// has no JWT middleware of its own (spec's HTTP gateway is out of core
// scope; only the user routes the excerpt shows are kept).
func (s *Server) callerUserID(r *http.Request) (uint32, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return 0, brokererr.New(brokererr.KindNotAuthenticated)
	}
	token := strings.TrimPrefix(header, prefix)
	u, err := s.system.Users.AuthenticateToken(token)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	callerID, err := s.callerUserID(r)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	if err := s.system.Permissioner.MayManageUsers(callerID); err != nil {
		writeBrokerError(w, err)
		return
	}

	err = s.system.WithWriteLock(func() error {
		_, createErr := s.system.Users.CreateUser(0, req.Username, req.Password, req.Permissions)
		return createErr
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	if _, err := s.system.Users.Authenticate(req.Username, req.Password); err != nil {
		writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// logoutUser is stateless on this gateway: there is no server-side HTTP
// session to clear, since authentication here is a bearer PAT checked
// fresh on every request. The route is kept only to mirror the original
// surface.
func (s *Server) logoutUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeBrokerError(w http.ResponseWriter, err error) {
	kind := brokererr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case brokererr.KindNotAuthenticated:
		status = http.StatusUnauthorized
	case brokererr.KindUnauthorized:
		status = http.StatusForbidden
	case brokererr.KindResourceNotFound:
		status = http.StatusNotFound
	case brokererr.KindResourceAlreadyExists:
		status = http.StatusConflict
	case brokererr.KindInvalidCommand, brokererr.KindInvalidConfiguration:
		status = http.StatusBadRequest
	}
	http.Error(w, kind.String(), status)
}
