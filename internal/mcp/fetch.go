package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davefern/mcpforge/internal/httpkit"
)

// FetchOptions configures a schema fetch.
type FetchOptions struct {
	// Transport pins the transport, skipping detection. TransportUnknown
	// (the zero-ish default via "") means auto-detect.
	Transport Transport

	// Headers are extra HTTP headers for every request.
	Headers map[string]string

	// ProtocolVersion is the preferred MCP protocol version.
	ProtocolVersion string

	// AttemptTimeout bounds each streaming-session attempt and the POST
	// fallback requests (default 7s).
	AttemptTimeout time.Duration

	// Logger receives fetch diagnostics.
	Logger *slog.Logger

	// Prober overrides transport detection (used by tests).
	Prober transportProber
}

func (o *FetchOptions) applyDefaults() {
	if o.ProtocolVersion == "" {
		o.ProtocolVersion = "2025-06-18"
	}
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = 7 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// FetchSchema returns the full tool list of the MCP server at baseURL,
// trying transports in probe-preferred order.
//
// A server detected (or hinted) as http-post is fetched over plain POST
// directly; streaming attempts are skipped entirely. Otherwise the
// streamable-HTTP and legacy SSE transports are tried in order, each
// bounded by AttemptTimeout; any failure, including timeout, moves on to
// the next candidate, and plain POST is the final fallback.
func FetchSchema(ctx context.Context, baseURL string, opts FetchOptions) ([]ToolDefinition, error) {
	opts.applyDefaults()
	base := trimBase(baseURL)

	detected := opts.Transport
	if detected == "" || detected == TransportUnknown {
		prober := opts.Prober
		if prober == nil {
			prober = NewProber(ProberConfig{
				ProtocolVersion: opts.ProtocolVersion,
				Logger:          opts.Logger,
			})
		}
		detected = prober.Detect(ctx, base)
	}

	if detected == TransportHTTPPost {
		return fetchPlainPost(ctx, base, opts)
	}

	var candidates []Transport
	switch detected {
	case TransportStreamableHTTP, TransportSSE:
		candidates = []Transport{detected}
	default:
		// Unknown: try both streaming transports before giving up on them.
		candidates = []Transport{TransportStreamableHTTP, TransportSSE}
	}

	for _, candidate := range candidates {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		tools, err := fetchStreaming(attemptCtx, base, candidate, opts)
		cancel()
		if err == nil {
			return tools, nil
		}
		opts.Logger.Debug("streaming schema fetch failed, trying next transport",
			"base_url", base, "transport", candidate, "err", err)
	}

	return fetchPlainPost(ctx, base, opts)
}

// fetchStreaming opens a full protocol session on the given transport
// and calls its native tools/list operation.
func fetchStreaming(ctx context.Context, base string, transport Transport, opts FetchOptions) ([]ToolDefinition, error) {
	switch transport {
	case TransportStreamableHTTP:
		client := NewClient(base,
			WithTransportHint(TransportStreamableHTTP),
			WithProtocolVersion(opts.ProtocolVersion),
			WithHeaders(opts.Headers),
			WithRequestTimeout(opts.AttemptTimeout),
			WithClientLogger(opts.Logger),
		)
		return client.ListTools(ctx)

	case TransportSSE:
		return fetchOverSSE(ctx, sseURL(base), opts)

	default:
		return nil, fmt.Errorf("no streaming fetch for transport %s", transport)
	}
}

// fetchOverSSE runs initialize + tools/list over a legacy SSE session.
func fetchOverSSE(ctx context.Context, connectURL string, opts FetchOptions) ([]ToolDefinition, error) {
	sess, err := dialSSE(ctx, connectURL, opts.Headers, opts.Logger)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	if _, err := sess.call(ctx, NewRequest(1, "initialize", initializeParams(opts.ProtocolVersion))); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := sess.notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	resp, err := sess.call(ctx, NewRequest(2, "tools/list", map[string]any{}))
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var list toolsListResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	return normalizeTools(list.Tools), nil
}

// fetchPlainPost fetches the tool list over plain HTTP POST. This path
// deliberately does not build a persistent Client (no session object
// outlives the two requests) but it performs the same negotiation:
// the tools/list request reuses the protocol version and session
// identifier from the initialize response.
func fetchPlainPost(ctx context.Context, base string, opts FetchOptions) ([]ToolDefinition, error) {
	url := mcpURL(base)
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithRetry(1, 200*time.Millisecond),
		httpkit.WithLogger(opts.Logger),
	)

	// Initialize: no session header, preferred version.
	initResp, raw, err := postOnce(ctx, httpClient, url, NewRequest(1, "initialize", initializeParams(opts.ProtocolVersion)), opts, opts.ProtocolVersion, "")
	if err != nil {
		return nil, &VersionNegotiationError{Err: err}
	}
	if initResp.Error != nil {
		return nil, &VersionNegotiationError{Err: initResp.Error}
	}

	var init initializeResult
	if initResp.Result != nil {
		if err := json.Unmarshal(initResp.Result, &init); err != nil {
			return nil, &VersionNegotiationError{Err: fmt.Errorf("unmarshal initialize result: %w", err)}
		}
	}

	version := init.ProtocolVersion
	if version == "" {
		version = opts.ProtocolVersion
	}
	sessionID := raw.Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	listResp, _, err := postOnce(ctx, httpClient, url, NewRequest(2, "tools/list", map[string]any{}), opts, version, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if listResp.Error != nil {
		return nil, listResp.Error
	}

	var list toolsListResult
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	return normalizeTools(list.Tools), nil
}

// postOnce sends one JSON-RPC request over plain POST with dual JSON/SSE
// response handling, returning both the decoded response and the raw
// HTTP response for header extraction.
func postOnce(ctx context.Context, httpClient *http.Client, url string, req *Request, opts FetchOptions, version, sessionID string) (*Response, *http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range opts.Headers {
		httpReq.Header.Set(k, v)
	}
	EnsureAccept(httpReq.Header)
	httpReq.Header.Set(HeaderProtocolVersion, version)
	if sessionID != "" {
		httpReq.Header.Set(HeaderSessionID, sessionID)
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, maxEventSize)

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(errBody))
	}

	resp, err := decodeResponse(httpResp)
	if err != nil {
		return nil, nil, err
	}
	return resp, httpResp, nil
}

func normalizeTools(raw []rawTool) []ToolDefinition {
	tools := make([]ToolDefinition, 0, len(raw))
	for _, t := range raw {
		tools = append(tools, t.normalize())
	}
	return tools
}
