// Package mcp implements the client side of the Model Context Protocol:
// transport probing, the initialize handshake with protocol version
// negotiation, tool invocation with retry, and schema fetching.
//
// MCP servers in the wild expose one of three HTTP transports (streamable
// HTTP at /mcp, legacy SSE at /sse, or plain JSON-RPC POST) with
// inconsistent behavior between them. The Prober determines which one a
// server speaks without committing to a full session; the Client owns one
// logical connection and caches the probed transport and negotiated
// session; FetchSchema falls back across all three to collect tool
// definitions.
//
// A further wrinkle is response duality: servers answering a POST may
// reply with a plain JSON document or with a text/event-stream body whose
// first event carries the JSON. All response parsing here branches on
// content type and reads only the first SSE event.
package mcp
