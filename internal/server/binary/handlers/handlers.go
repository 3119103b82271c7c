// Package handlers implements the per-command logic invoked by the binary
// dispatcher (C9): each handler decodes its own payload, validates,
// authorizes via the Permissioner, executes under the System's locking
// discipline, and returns the response payload.
package handlers

import (
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/system"
)

// Handler executes one command's business logic against payload (the
// command's already-length-framed body) for session, returning the
// response payload bytes on success.
type Handler func(payload []byte, session *auth.Session, sys *system.System) ([]byte, error)
