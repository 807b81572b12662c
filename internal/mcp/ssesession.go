package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tmaxmax/go-sse"

	"github.com/davefern/mcpforge/internal/httpkit"
)

// sseSession is a legacy SSE transport session: the server streams
// events over a long-lived GET to /sse, announcing a message endpoint in
// its first event; the client POSTs JSON-RPC requests to that endpoint
// and reads the responses back off the stream.
type sseSession struct {
	httpClient *http.Client
	logger     *slog.Logger

	messageURL string
	responses  chan *Response

	// streamCtx spans the stream's lifetime; cancel ends it. The
	// listener selects on it so teardown reaches a listener blocked on
	// the responses channel, not just one blocked in a read.
	streamCtx context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// dialSSE opens a legacy SSE session against connectURL and blocks until
// the server announces its message endpoint (or ctx expires). The caller
// must close the returned session.
func dialSSE(ctx context.Context, connectURL string, headers map[string]string, logger *slog.Logger) (*sseSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// The stream stays open for the session's lifetime, so the client
	// must not carry an overall timeout.
	httpClient := httpkit.NewClient(httpkit.WithTimeout(0))

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to SSE endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("SSE endpoint returned %d", resp.StatusCode)
	}
	if !IsEventStream(resp.Header.Get("Content-Type")) {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("SSE endpoint answered with %q", resp.Header.Get("Content-Type"))
	}

	s := &sseSession{
		httpClient: httpClient,
		logger:     logger,
		responses:  make(chan *Response, 4),
		streamCtx:  streamCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.listen(resp, connectURL, ready)

	select {
	case err := <-ready:
		if err != nil {
			s.close()
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		s.close()
		return nil, ctx.Err()
	}
}

// listen consumes the event stream, resolving the endpoint event first
// and then forwarding message events as JSON-RPC responses.
func (s *sseSession) listen(resp *http.Response, connectURL string, ready chan<- error) {
	defer close(s.done)
	defer resp.Body.Close()

	base, err := url.Parse(connectURL)
	if err != nil {
		ready <- fmt.Errorf("parse connect URL: %w", err)
		return
	}

	announced := false
	cfg := &sse.ReadConfig{MaxEventSize: maxEventSize}
	for ev, err := range sse.Read(resp.Body, cfg) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Debug("SSE stream read ended", "err", err)
			}
			if !announced {
				ready <- fmt.Errorf("SSE stream closed before endpoint event: %w", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			// Resolve against the connect URL so servers may announce a
			// relative path.
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			s.messageURL = base.ResolveReference(u).String()
			announced = true
			ready <- nil
		case "message", "":
			if !announced {
				s.logger.Debug("message event before endpoint, dropping")
				continue
			}
			var r Response
			if err := json.Unmarshal([]byte(ev.Data), &r); err != nil {
				s.logger.Debug("unparseable SSE message", "err", err)
				continue
			}
			select {
			case s.responses <- &r:
			case <-s.streamCtx.Done():
				// Teardown in progress; nobody will read this.
				return
			}
		default:
			s.logger.Debug("unhandled SSE event type", "type", ev.Type)
		}
	}
}

// call POSTs a request to the message endpoint and waits for the
// response with a matching ID to come back on the stream.
func (s *sseSession) call(ctx context.Context, req *Request) (*Response, error) {
	if err := s.post(ctx, req); err != nil {
		return nil, err
	}

	for {
		select {
		case resp := <-s.responses:
			if resp.ID != req.ID {
				// A response to some other request; out-of-order replies
				// are not expected in this one-request-at-a-time session.
				s.logger.Debug("dropping response with unexpected id", "id", resp.ID)
				continue
			}
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp, nil
		case <-s.done:
			return nil, errors.New("SSE stream closed while awaiting response")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// notify POSTs a notification to the message endpoint. No response is
// expected.
func (s *sseSession) notify(ctx context.Context, notif *Notification) error {
	return s.post(ctx, notif)
}

// post sends one JSON payload to the announced message endpoint.
func (s *sseSession) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("message endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// close tears down the stream and waits for the listener to exit.
func (s *sseSession) close() {
	s.cancel()
	<-s.done
}
