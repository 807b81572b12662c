package mcp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testProber() *Prober {
	return NewProber(ProberConfig{
		ConnectTimeout: 500 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
	})
}

func TestDetectStreamableHTTPViaHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/mcp" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL); got != TransportStreamableHTTP {
		t.Errorf("Detect = %s, want %s", got, TransportStreamableHTTP)
	}
}

func TestDetectStreamableHTTPViaInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodPost:
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL); got != TransportStreamableHTTP {
		t.Errorf("Detect = %s, want %s", got, TransportStreamableHTTP)
	}
}

func TestDetectSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sse" && r.Method == http.MethodHead:
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL); got != TransportSSE {
		t.Errorf("Detect = %s, want %s", got, TransportSSE)
	}
}

func TestDetectSSEViaGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sse" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL); got != TransportSSE {
		t.Errorf("Detect = %s, want %s", got, TransportSSE)
	}
}

func TestDetectHTTPPost(t *testing.T) {
	// Only 200 here; the other accepted statuses are covered below.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/mcp" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL); got != TransportHTTPPost {
		t.Errorf("Detect = %s, want %s", got, TransportHTTPPost)
	}
}

func TestDetectHTTPPostStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   Transport
	}{
		{http.StatusOK, TransportHTTPPost},
		{http.StatusBadRequest, TransportHTTPPost},
		{http.StatusUnauthorized, TransportHTTPPost},
		{http.StatusForbidden, TransportHTTPPost},
		{http.StatusUnsupportedMediaType, TransportHTTPPost},
		{http.StatusUnprocessableEntity, TransportHTTPPost},
		{http.StatusNotFound, TransportUnknown},
		{http.StatusInternalServerError, TransportUnknown},
		{http.StatusBadGateway, TransportUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost && r.URL.Path == "/mcp" {
					w.WriteHeader(tt.status)
					return
				}
				http.NotFound(w, r)
			}))
			defer srv.Close()

			if got := testProber().Detect(context.Background(), srv.URL); got != tt.want {
				t.Errorf("Detect with POST status %d = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestDetectUnreachable(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	start := time.Now()
	got := testProber().Detect(context.Background(), "http://"+addr)
	elapsed := time.Since(start)

	if got != TransportUnknown {
		t.Errorf("Detect = %s, want %s", got, TransportUnknown)
	}
	// Connection-refused fails fast; the whole probe sequence should
	// finish well inside the per-step budgets.
	if elapsed > 3*time.Second {
		t.Errorf("Detect took %v against a dead port", elapsed)
	}
}

func TestDetectRespectsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/mcp" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if got := testProber().Detect(context.Background(), srv.URL+"/"); got != TransportStreamableHTTP {
		t.Errorf("Detect with trailing slash = %s, want %s", got, TransportStreamableHTTP)
	}
}
