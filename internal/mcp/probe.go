package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/davefern/mcpforge/internal/buildinfo"
	"github.com/davefern/mcpforge/internal/httpkit"
)

// Transport identifies the HTTP interaction pattern an MCP server speaks.
type Transport string

const (
	TransportStreamableHTTP Transport = "streamable-http"
	TransportSSE            Transport = "sse"
	TransportHTTPPost       Transport = "http-post"
	TransportUnknown        Transport = "unknown"
)

// ProberConfig configures transport detection timeouts.
type ProberConfig struct {
	// ConnectTimeout bounds TCP connect per probe step (default 1.5s).
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers per probe step
	// (default 400ms). Keeping this short is what makes probing complete
	// in well under a second against slow or absent hosts.
	ReadTimeout time.Duration

	// ProtocolVersion is advertised in initialize probe payloads.
	ProtocolVersion string

	// Logger receives per-step probe diagnostics at debug level.
	Logger *slog.Logger
}

// Prober determines which transport a server supports without
// establishing a full session. All probe errors are swallowed; the only
// observable outcomes are the four Transport labels.
type Prober struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	version        string
	logger         *slog.Logger

	// head is used for cheap metadata probes, stream for the fallback
	// probes that must hold a response body open briefly.
	head   *http.Client
	stream *http.Client
}

// NewProber creates a Prober with the given timeouts. Zero values get
// the defaults noted on ProberConfig.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 1500 * time.Millisecond
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 400 * time.Millisecond
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = "2025-06-18"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		connectTimeout: cfg.ConnectTimeout,
		readTimeout:    cfg.ReadTimeout,
		version:        cfg.ProtocolVersion,
		logger:         logger,
		head: httpkit.NewClient(
			httpkit.WithTimeout(cfg.ConnectTimeout+cfg.ReadTimeout),
			httpkit.WithDialTimeout(cfg.ConnectTimeout),
			httpkit.WithResponseHeaderTimeout(cfg.ReadTimeout),
			httpkit.WithRetry(1, 200*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		stream: httpkit.NewClient(
			// No overall timeout: a streaming probe holds the body open
			// until the per-step context expires.
			httpkit.WithTimeout(0),
			httpkit.WithDialTimeout(cfg.ConnectTimeout),
			httpkit.WithResponseHeaderTimeout(1500*time.Millisecond),
		),
	}
}

// Detect probes baseURL and returns the transport it speaks, in
// preference order streamable-http, sse, http-post. Each step runs under
// its own timeout so a hang or connection error in one step never aborts
// the rest. Detect never returns an error; an unreachable or
// unrecognizable server yields TransportUnknown.
func (p *Prober) Detect(ctx context.Context, baseURL string) Transport {
	base := strings.TrimRight(baseURL, "/")

	if p.probeStreamableHTTP(ctx, mcpURL(base)) {
		return TransportStreamableHTTP
	}
	if p.probeSSE(ctx, sseURL(base)) {
		return TransportSSE
	}
	if p.probeHTTPPost(ctx, mcpURL(base)) {
		return TransportHTTPPost
	}
	return TransportUnknown
}

// probeStreamableHTTP checks for streamable HTTP at /mcp: a HEAD that
// answers 200 with an event-stream content type confirms it. Servers
// that reject HEAD get a full initialize probe with a short read window.
func (p *Prober) probeStreamableHTTP(ctx context.Context, url string) bool {
	stepCtx, cancel := context.WithTimeout(ctx, p.connectTimeout+p.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(stepCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.head.Do(req)
	if err != nil {
		p.logger.Debug("streamable-http HEAD probe failed", "url", url, "err", err)
		return false
	}
	httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode == http.StatusOK && IsEventStream(resp.Header.Get("Content-Type")) {
		return true
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		return false
	}

	// HEAD not supported; send a real initialize and look at the
	// response content type without consuming the stream.
	return p.initializeProbe(ctx, url, p.fullInitializePayload())
}

// probeSSE checks for legacy SSE at /sse via HEAD, falling back to a
// short-lived streaming GET when the server does not implement HEAD.
func (p *Prober) probeSSE(ctx context.Context, url string) bool {
	stepCtx, cancel := context.WithTimeout(ctx, p.connectTimeout+p.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(stepCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.head.Do(req)
	if err != nil {
		p.logger.Debug("sse HEAD probe failed", "url", url, "err", err)
		return false
	}
	httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode == http.StatusOK && IsEventStream(resp.Header.Get("Content-Type")) {
		return true
	}
	if resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotImplemented {
		return false
	}

	getCtx, cancelGet := context.WithTimeout(ctx, p.connectTimeout+500*time.Millisecond)
	defer cancelGet()

	getReq, err := http.NewRequestWithContext(getCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	getReq.Header.Set("Accept", "text/event-stream")

	getResp, err := p.stream.Do(getReq)
	if err != nil {
		p.logger.Debug("sse GET probe failed", "url", url, "err", err)
		return false
	}
	defer httpkit.DrainAndClose(getResp.Body, 1024)

	return getResp.StatusCode == http.StatusOK && IsEventStream(getResp.Header.Get("Content-Type"))
}

// probeHTTPPost sends a minimal initialize POST. Statuses 200, 400, 401,
// 403, 415 and 422 all indicate a reachable JSON-RPC endpoint: servers
// reject a bare probe in different ways but only an endpoint that parsed
// the request answers in that set. This is a best-effort heuristic, not a
// protocol guarantee: an unrelated HTTP service returning one of those
// codes would be misclassified.
func (p *Prober) probeHTTPPost(ctx context.Context, url string) bool {
	stepCtx, cancel := context.WithTimeout(ctx, p.connectTimeout+p.readTimeout)
	defer cancel()

	payload, _ := json.Marshal(NewRequest(1, "initialize", map[string]any{}))
	req, err := http.NewRequestWithContext(stepCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	EnsureAccept(req.Header)

	resp, err := p.head.Do(req)
	if err != nil {
		p.logger.Debug("http-post probe failed", "url", url, "err", err)
		return false
	}
	httpkit.DrainAndClose(resp.Body, 1024)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized,
		http.StatusForbidden, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// initializeProbe POSTs a full initialize request and reports whether the
// server answered 200 with an event-stream body. The body is closed
// without being consumed; only the content type matters here.
func (p *Prober) initializeProbe(ctx context.Context, url string, payload []byte) bool {
	stepCtx, cancel := context.WithTimeout(ctx, p.connectTimeout+1500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(stepCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	EnsureAccept(req.Header)

	resp, err := p.stream.Do(req)
	if err != nil {
		p.logger.Debug("initialize probe failed", "url", url, "err", err)
		return false
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	return resp.StatusCode == http.StatusOK && IsEventStream(resp.Header.Get("Content-Type"))
}

func (p *Prober) fullInitializePayload() []byte {
	payload, _ := json.Marshal(NewRequest(1, "initialize", initializeParams(p.version)))
	return payload
}

// initializeParams builds the params object for an initialize request.
func initializeParams(version string) map[string]any {
	return map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    buildinfo.ClientName,
			"version": buildinfo.Version,
		},
	}
}

// mcpURL appends /mcp to base unless it already ends with it.
func mcpURL(base string) string {
	if strings.HasSuffix(base, "/mcp") {
		return base
	}
	return base + "/mcp"
}

// sseURL appends /sse to base unless it already ends with it.
func sseURL(base string) string {
	if strings.HasSuffix(base, "/sse") {
		return base
	}
	return base + "/sse"
}
