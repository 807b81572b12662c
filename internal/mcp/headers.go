package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// Header names used by the MCP HTTP transports. Servers vary the casing
// of the session header; reads go through http.Header, which matches
// case-insensitively.
const (
	HeaderProtocolVersion = "mcp-protocol-version"
	HeaderSessionID       = "Mcp-Session-Id"
)

// acceptBoth is the Accept value MCP servers require: a response may be
// either a JSON document or an SSE stream, so requests must accept both.
const acceptBoth = "application/json, text/event-stream"

// maxEventSize bounds a single SSE event read from a response stream.
const maxEventSize = 10 << 20 // 10 MiB

// EnsureAccept guarantees the Accept header admits both application/json
// and text/event-stream. If either is missing the header is replaced with
// exactly both values; unrelated headers are never touched.
func EnsureAccept(h http.Header) {
	var hasJSON, hasStream bool
	for _, part := range strings.Split(h.Get("Accept"), ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "application/json":
			hasJSON = true
		case "text/event-stream":
			hasStream = true
		}
	}
	if !hasJSON || !hasStream {
		h.Set("Accept", acceptBoth)
	}
}

// IsEventStream reports whether a Content-Type value declares an SSE body.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// FirstSSEEvent reads events from r until one carries a data payload and
// returns that payload. It never waits for the stream to close: reading
// stops as soon as the first data-bearing event is complete, so callers
// can hang up on servers that keep the stream open.
func FirstSSEEvent(r io.Reader) (json.RawMessage, error) {
	cfg := &sse.ReadConfig{MaxEventSize: maxEventSize}
	for ev, err := range sse.Read(r, cfg) {
		if err != nil {
			return nil, fmt.Errorf("read SSE event: %w", err)
		}
		if ev.Data != "" {
			return json.RawMessage(ev.Data), nil
		}
	}
	return nil, errors.New("no SSE event with data in response stream")
}

// decodeResponse parses an HTTP response body as a JSON-RPC response,
// handling both plain JSON and single-SSE-frame bodies. The body is not
// closed; the caller owns it.
func decodeResponse(httpResp *http.Response) (*Response, error) {
	var raw json.RawMessage

	if IsEventStream(httpResp.Header.Get("Content-Type")) {
		ev, err := FirstSSEEvent(httpResp.Body)
		if err != nil {
			return nil, err
		}
		raw = ev
	} else {
		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxEventSize))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		raw = body
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}
