package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// staticProber returns a fixed transport and counts invocations.
type staticProber struct {
	transport Transport
	calls     atomic.Int32
}

func (p *staticProber) Detect(ctx context.Context, baseURL string) Transport {
	p.calls.Add(1)
	return p.transport
}

type rpcCall struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func decodeRPC(t *testing.T, r *http.Request) rpcCall {
	t.Helper()
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		t.Fatalf("decode JSON-RPC request: %v", err)
	}
	return call
}

func writeRPCResult(w http.ResponseWriter, id int64, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}

func writeRPCError(w http.ResponseWriter, id int64, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, id, code, msg)
}

const initResultJSON = `{"protocolVersion":"2025-03-26","serverInfo":{"name":"test-server"}}`

func TestEnsureReadyEstablishesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		if call.Method != "initialize" {
			t.Errorf("unexpected method %q before session established", call.Method)
		}
		if r.Header.Get(HeaderSessionID) != "" {
			t.Error("initialize request carried a session header")
		}
		if got := r.Header.Get("Accept"); got != "application/json, text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set(HeaderSessionID, "sess-123")
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))
	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	sess := c.Session()
	if sess == nil {
		t.Fatal("Session() = nil after EnsureReady")
	}
	if sess.ID != "sess-123" {
		t.Errorf("session ID = %q, want sess-123", sess.ID)
	}
	if sess.ProtocolVersion != "2025-03-26" {
		t.Errorf("protocol version = %q, want server's 2025-03-26", sess.ProtocolVersion)
	}
	if got := c.Transport(); got != TransportStreamableHTTP {
		t.Errorf("Transport = %s", got)
	}
}

func TestEnsureReadyReturnsPromptly(t *testing.T) {
	// The first handshake runs under the client's state mutex; nothing on
	// that path may try to take the mutex again. A responsive server must
	// therefore yield a session well inside the request timeout, never a
	// block on the lock itself.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		w.Header().Set(HeaderSessionID, "sess-prompt")
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))

	done := make(chan error, 1)
	go func() { done <- c.EnsureReady(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("EnsureReady: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("EnsureReady did not return within 3s against a responsive server")
	}

	if sess := c.Session(); sess == nil || sess.ID != "sess-prompt" {
		t.Errorf("Session() = %+v, want ID sess-prompt", sess)
	}
}

func TestEnsureReadyMemoized(t *testing.T) {
	var inits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		if call.Method == "initialize" {
			inits.Add(1)
		}
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	prober := &staticProber{transport: TransportStreamableHTTP}
	c := NewClient(srv.URL, WithProber(prober))

	for i := 0; i < 3; i++ {
		if err := c.EnsureReady(context.Background()); err != nil {
			t.Fatalf("EnsureReady #%d: %v", i+1, err)
		}
	}

	if got := prober.calls.Load(); got != 1 {
		t.Errorf("probe count = %d, want 1", got)
	}
	if got := inits.Load(); got != 1 {
		t.Errorf("initialize count = %d, want 1", got)
	}
}

func TestEnsureReadyFailureCachesNothing(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))

	err := c.EnsureReady(context.Background())
	if err == nil {
		t.Fatal("expected first EnsureReady to fail")
	}
	var vErr *VersionNegotiationError
	if !errors.As(err, &vErr) {
		t.Errorf("error = %T, want *VersionNegotiationError", err)
	}
	if c.Session() != nil {
		t.Error("failed handshake left a cached session")
	}

	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("second EnsureReady: %v", err)
	}
	if c.Session() == nil {
		t.Error("no session after successful retry")
	}
}

func TestEnsureReadyNoTransport(t *testing.T) {
	prober := &staticProber{transport: TransportUnknown}
	c := NewClient("http://127.0.0.1:1", WithProber(prober))

	err := c.EnsureReady(context.Background())
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("error = %v, want ErrNoTransport", err)
	}
}

func TestSessionHeaderOnSubsequentCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			w.Header().Set(HeaderSessionID, "sess-abc")
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/list":
			if got := r.Header.Get(HeaderSessionID); got != "sess-abc" {
				t.Errorf("session header = %q, want sess-abc", got)
			}
			if got := r.Header.Get(HeaderProtocolVersion); got != "2025-03-26" {
				t.Errorf("version header = %q, want negotiated 2025-03-26", got)
			}
			writeRPCResult(w, call.ID, `{"tools":[]}`)
		default:
			t.Errorf("unexpected method %q", call.Method)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
}

func TestSessionIDMintedWhenServerOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))
	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if c.Session().ID == "" {
		t.Error("session ID empty, want locally minted identifier")
	}
}

func TestCallToolRetriesTransportErrors(t *testing.T) {
	var callAttempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/call":
			if callAttempts.Add(1) <= 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writeRPCResult(w, call.ID, `{"content":[{"type":"text","text":"ok"}]}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL,
		WithTransportHint(TransportStreamableHTTP),
		WithRetries(2),
		WithBackoffBase(time.Millisecond),
	)

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"v": 1})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result == nil {
		t.Fatal("CallTool returned nil result")
	}
	if got := callAttempts.Load(); got != 3 {
		t.Errorf("tools/call attempts = %d, want 3", got)
	}
}

func TestCallToolNoRetryOnRPCError(t *testing.T) {
	var callAttempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/call":
			callAttempts.Add(1)
			writeRPCError(w, call.ID, -32602, "unknown tool")
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL,
		WithTransportHint(TransportStreamableHTTP),
		WithRetries(3),
		WithBackoffBase(time.Millisecond),
	)

	_, err := c.CallTool(context.Background(), "missing", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %T (%v), want *RPCError", err, err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("code = %d, want -32602", rpcErr.Code)
	}
	if got := callAttempts.Load(); got != 1 {
		t.Errorf("tools/call attempts = %d, want 1 (no retry on RPC errors)", got)
	}
}

func TestCallToolExhaustsRetries(t *testing.T) {
	var callAttempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/call":
			callAttempts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL,
		WithTransportHint(TransportStreamableHTTP),
		WithRetries(2),
		WithBackoffBase(time.Millisecond),
	)

	_, err := c.CallTool(context.Background(), "flaky", nil)
	var callErr *ToolCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error = %T (%v), want *ToolCallError", err, err)
	}
	if callErr.Tool != "flaky" {
		t.Errorf("Tool = %q", callErr.Tool)
	}
	if callErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", callErr.Attempts)
	}
	if got := callAttempts.Load(); got != 3 {
		t.Errorf("tools/call attempts = %d, want 3", got)
	}
}

func TestCallToolSSEFramedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/call":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{\"content\":[]}}\n\n", call.ID)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))
	result, err := c.CallTool(context.Background(), "streamy", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(result, &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if _, ok := payload["content"]; !ok {
		t.Errorf("result = %s, want content field", result)
	}
}

func TestListToolsNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		switch call.Method {
		case "initialize":
			writeRPCResult(w, call.ID, initResultJSON)
		case "tools/list":
			writeRPCResult(w, call.ID, `{"tools":[{"name":"bare","description":"no schema fields"}]}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTransportHint(TransportStreamableHTTP))
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	tool := tools[0]
	if tool.InputSchema.Type != "object" {
		t.Errorf("schema type = %q, want object default", tool.InputSchema.Type)
	}
	if tool.InputSchema.Properties == nil {
		t.Error("Properties = nil, want empty map")
	}
	if tool.InputSchema.Required == nil {
		t.Error("Required = nil, want empty slice")
	}
}

func TestResetTransportForcesReprobe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeRPC(t, r)
		writeRPCResult(w, call.ID, initResultJSON)
	}))
	defer srv.Close()

	prober := &staticProber{transport: TransportStreamableHTTP}
	c := NewClient(srv.URL, WithProber(prober))

	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	c.ResetTransport()
	if c.Transport() != TransportUnknown {
		t.Error("transport still cached after ResetTransport")
	}
	if c.Session() != nil {
		t.Error("session survived ResetTransport")
	}

	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady after reset: %v", err)
	}
	if got := prober.calls.Load(); got != 2 {
		t.Errorf("probe count = %d, want 2", got)
	}
}
