package mcp

import (
	"errors"
	"fmt"
)

// ErrNoTransport is returned when transport probing cannot confirm any
// supported transport for a server. Callers must abort or supply an
// explicit transport hint; there is nothing to retry.
var ErrNoTransport = errors.New("no supported MCP transport found")

// VersionNegotiationError indicates the initialize handshake failed,
// either at the HTTP layer or because the server returned a protocol
// error. It is terminal; the handshake is never retried automatically.
type VersionNegotiationError struct {
	Err error
}

func (e *VersionNegotiationError) Error() string {
	return fmt.Sprintf("version negotiation failed: %v", e.Err)
}

func (e *VersionNegotiationError) Unwrap() error { return e.Err }

// ToolCallError indicates a tool invocation exhausted its transport-level
// retries. It wraps the last underlying transport error.
type ToolCallError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool call %s failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ToolCallError) Unwrap() error { return e.Err }
