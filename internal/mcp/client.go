package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davefern/mcpforge/internal/httpkit"
)

// Session holds what the initialize handshake negotiated. It is created
// exactly once per Client and never mutated afterwards; establishing a
// new session means constructing a new Client.
type Session struct {
	// ProtocolVersion is the server's negotiated version, falling back
	// to the client's preferred version when the server omits it.
	ProtocolVersion string

	// ID is the session identifier: adopted verbatim from the server's
	// response header when present, otherwise minted locally. It is sent
	// on every call after initialize, never on initialize itself.
	ID string

	// ServerInfo is the opaque serverInfo metadata from the handshake.
	ServerInfo map[string]any
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger for client diagnostics.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithHeaders sets extra HTTP headers sent on every request (e.g.
// Authorization). The Accept header is merged, not replaced.
func WithHeaders(h map[string]string) ClientOption {
	return func(c *Client) { c.headers = h }
}

// WithProtocolVersion overrides the preferred MCP protocol version
// advertised during initialization.
func WithProtocolVersion(v string) ClientOption {
	return func(c *Client) { c.version = v }
}

// WithRequestTimeout bounds each JSON-RPC request, including the read of
// the first SSE event when the server streams its response.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// WithRetries sets the number of additional attempts after the first
// transport-level failure of a tool call.
func WithRetries(n int) ClientOption {
	return func(c *Client) { c.retries = n }
}

// WithBackoffBase sets the first retry delay; each subsequent delay
// doubles.
func WithBackoffBase(d time.Duration) ClientOption {
	return func(c *Client) { c.backoffBase = d }
}

// WithTransportHint pins the transport, skipping probing entirely.
func WithTransportHint(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

// WithProber replaces the transport prober. Tests use this to count
// probe invocations.
func WithProber(p transportProber) ClientOption {
	return func(c *Client) { c.prober = p }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// transportProber detects a server's transport. Satisfied by *Prober.
type transportProber interface {
	Detect(ctx context.Context, baseURL string) Transport
}

// Client owns one logical connection to an MCP server: it lazily probes
// the transport, lazily performs the initialize handshake, and exposes
// retryable tool invocation. Both lazy transitions are memoized; a failed
// transition leaves the client in its prior state so EnsureReady can be
// called again.
//
// A Client serializes its own handshake, so concurrent calls never race
// an in-flight initialize, and the cached transport and session are
// write-once, so no further locking is needed on the read path.
type Client struct {
	baseURL string
	headers map[string]string
	version string

	requestTimeout time.Duration
	retries        int
	backoffBase    time.Duration

	httpClient *http.Client
	prober     transportProber
	logger     *slog.Logger

	nextID atomic.Int64

	mu        sync.Mutex
	transport Transport
	sess      *Session
}

// NewClient creates a client for the MCP server at baseURL. The returned
// client is idle: no network traffic happens until EnsureReady or the
// first call.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        trimBase(baseURL),
		version:        "2025-06-18",
		requestTimeout: 7 * time.Second,
		retries:        2,
		backoffBase:    300 * time.Millisecond,
		transport:      TransportUnknown,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		// No overall timeout: responses may be event streams held open
		// past the first event. Per-request contexts bound each call.
		c.httpClient = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	if c.prober == nil {
		c.prober = NewProber(ProberConfig{
			ProtocolVersion: c.version,
			Logger:          c.logger,
		})
	}
	return c
}

// BaseURL returns the server base URL this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Transport returns the cached transport, or TransportUnknown before the
// first successful probe.
func (c *Client) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Session returns the negotiated session, or nil before the handshake
// has succeeded.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ResetTransport discards the cached transport so the next EnsureReady
// probes again. The session, if any, is discarded with it. This is the
// only way to re-probe; transport resolution is never invalidated
// implicitly.
func (c *Client) ResetTransport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = TransportUnknown
	c.sess = nil
}

// EnsureReady drives the client through its two lazy transitions: probe
// the transport if unknown, then perform the initialize handshake if no
// session exists. Repeated calls after success are no-ops. A failure at
// either stage caches nothing, so the caller may simply call EnsureReady
// again.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == TransportUnknown {
		detected := c.prober.Detect(ctx, c.baseURL)
		if detected == TransportUnknown {
			return fmt.Errorf("%w for %s", ErrNoTransport, c.baseURL)
		}
		c.transport = detected
		c.logger.Debug("transport resolved", "base_url", c.baseURL, "transport", detected)
	}

	if c.sess == nil {
		sess, err := c.initialize(ctx)
		if err != nil {
			return err
		}
		c.sess = sess
		c.logger.Info("MCP session established",
			"base_url", c.baseURL,
			"protocol_version", sess.ProtocolVersion,
			"session_id", sess.ID,
		)
	}

	return nil
}

// initializeResult is the result payload of an initialize response.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      map[string]any `json:"serverInfo"`
}

// initialize performs the MCP handshake and returns the negotiated
// session. Must be called with c.mu held.
func (c *Client) initialize(ctx context.Context) (*Session, error) {
	req := NewRequest(c.nextID.Add(1), "initialize", initializeParams(c.version))

	// The session header is deliberately absent here: the session
	// identifier is an output of this request, not an input.
	httpResp, err := c.post(ctx, req, c.version, "")
	if err != nil {
		return nil, &VersionNegotiationError{Err: err}
	}
	defer httpkit.DrainAndClose(httpResp.Body, maxEventSize)

	if httpResp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, &VersionNegotiationError{
			Err: fmt.Errorf("server returned %d: %s", httpResp.StatusCode, body),
		}
	}

	resp, err := decodeResponse(httpResp)
	if err != nil {
		return nil, &VersionNegotiationError{Err: err}
	}
	if resp.Error != nil {
		return nil, &VersionNegotiationError{Err: resp.Error}
	}

	var result initializeResult
	if resp.Result != nil {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, &VersionNegotiationError{Err: fmt.Errorf("unmarshal initialize result: %w", err)}
		}
	}

	version := result.ProtocolVersion
	if version == "" {
		version = c.version
	}

	sessionID := httpResp.Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	return &Session{
		ProtocolVersion: version,
		ID:              sessionID,
		ServerInfo:      result.ServerInfo,
	}, nil
}

// CallTool invokes a tool by name. Transport-level failures are retried
// with exponential backoff; a JSON-RPC error response surfaces
// immediately as *RPCError since it reflects a valid server-side
// rejection. When retries are exhausted the last transport error is
// wrapped in *ToolCallError.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << (attempt - 1)
			c.logger.Debug("retrying tool call", "tool", name, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.rpc(ctx, "tools/call", params)
		if err == nil {
			return result, nil
		}

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}

		lastErr = err
	}

	return nil, &ToolCallError{Tool: name, Attempts: c.retries + 1, Err: lastErr}
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []rawTool `json:"tools"`
}

// ListTools calls tools/list on the established session and returns the
// normalized tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	result, err := c.rpc(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var list toolsListResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	tools := make([]ToolDefinition, 0, len(list.Tools))
	for _, t := range list.Tools {
		tools = append(tools, t.normalize())
	}
	return tools, nil
}

// rpc sends one JSON-RPC request on the established session and returns
// the result payload. A populated error field comes back as *RPCError;
// everything else (dial failures, resets, decode failures) is a
// transport-level error.
func (c *Client) rpc(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, errors.New("session not established")
	}

	req := NewRequest(c.nextID.Add(1), method, params)

	httpResp, err := c.post(ctx, req, sess.ProtocolVersion, sess.ID)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, maxEventSize)

	if httpResp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, body)
	}

	resp, err := decodeResponse(httpResp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// post sends a JSON-RPC request as a streaming POST to the /mcp endpoint.
// sessionID is attached when non-empty. The version header carries the
// caller-supplied protocol version: the negotiated one on an established
// session, the preferred one during the handshake. Taking it as a
// parameter keeps post free of c.mu, which callers may already hold.
func (c *Client) post(ctx context.Context, req *Request, version, sessionID string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, mcpURL(c.baseURL), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	EnsureAccept(httpReq.Header)

	httpReq.Header.Set(HeaderProtocolVersion, version)

	if sessionID != "" {
		httpReq.Header.Set(HeaderSessionID, sessionID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("POST %s: %w", mcpURL(c.baseURL), err)
	}

	// Tie the context's lifetime to the body so the deadline covers the
	// streaming read of the first event.
	httpResp.Body = &cancelReadCloser{ReadCloser: httpResp.Body, cancel: cancel}
	return httpResp, nil
}

// cancelReadCloser releases a request context when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func trimBase(baseURL string) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL
}
