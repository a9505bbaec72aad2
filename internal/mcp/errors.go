package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means a tool server failed to start or
	// did not complete the handshake. It is fatal for that session.
	ErrProviderUnavailable = errors.New("tool provider unavailable")

	// ErrProtocolViolation means the server wrote something that is not
	// JSON-RPC. The session is closed; other sessions are unaffected.
	ErrProtocolViolation = errors.New("tool protocol violation")

	// ErrToolTimeout means a tool call got no response before its
	// deadline. The session stays usable.
	ErrToolTimeout = errors.New("tool call timed out")

	// ErrTransportClosed means the subprocess exited or the session was
	// closed.
	ErrTransportClosed = errors.New("tool transport closed")
)

// ToolExecutionError is a tool call that reached the server and
// failed there, either as an isError result or a JSON-RPC error.
type ToolExecutionError struct {
	Tool    string
	Message string

	// Code is the JSON-RPC error code, or 0 for an isError result.
	Code int
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("tool %s failed (code %d): %s", e.Tool, e.Code, e.Message)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
