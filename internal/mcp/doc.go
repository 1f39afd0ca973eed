// Package mcp implements the registry's own MCP endpoint.
//
// The endpoint speaks JSON-RPC 2.0 over HTTP POST at /mcp. Clients
// authenticate with a bearer token on initialize and receive an
// Mcp-Session-Id header for subsequent requests. The exposed tools
// cover service registration, health inspection, catalog refresh, and
// intelligent tool discovery; every call is authorized against the
// scope policy before it touches the store.
package mcp
