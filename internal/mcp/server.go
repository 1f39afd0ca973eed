// ABOUTME: MCP-compatible HTTP server exposing the registry's own admin and discovery tools
// ABOUTME: JSON-RPC 2.0 over HTTP POST with session management and bearer-token auth

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/gateway"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/health"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/index"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// protocolVersion is the MCP protocol revision we advertise.
const protocolVersion = "2025-03-26"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Standard JSON-RPC error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HealthReader exposes the monitor's non-blocking status snapshot.
type HealthReader interface {
	Snapshot(ctx context.Context) (map[string]health.ServiceHealth, error)
}

// CatalogRefresher re-fetches one service's tool catalog.
type CatalogRefresher interface {
	Refresh(ctx context.Context, path string) ([]store.ToolDescriptor, error)
}

// Authorizer decides access; satisfied by *auth.Evaluator.
type Authorizer interface {
	Evaluate(p *auth.Principal, op auth.Operation, servicePath, tool string) auth.Decision
}

// Config holds configuration for the MCP server.
type Config struct {
	Store     store.Store
	Health    HealthReader
	Finder    *index.Finder
	Refresher CatalogRefresher
	Authz     Authorizer
	Verifier  auth.TokenVerifier
	Logger    *slog.Logger

	// SessionTTL is the sliding idle expiry for sessions. Zero means
	// the default of eight hours.
	SessionTTL time.Duration
}

// Server exposes the registry's administrative and discovery tools as
// an MCP endpoint. Every tool call is authorized against the scope
// policy with the caller's Principal.
type Server struct {
	store     store.Store
	health    HealthReader
	finder    *index.Finder
	refresher CatalogRefresher
	authz     Authorizer
	verifier  auth.TokenVerifier
	logger    *slog.Logger
	sessions  *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Authz == nil {
		return nil, errors.New("authorizer is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mcp")
	}

	return &Server{
		store:     cfg.Store,
		health:    cfg.Health,
		finder:    cfg.Finder,
		refresher: cfg.Refresher,
		authz:     cfg.Authz,
		verifier:  cfg.Verifier,
		logger:    logger,
		sessions:  newSessionStore(cfg.SessionTTL),
	}, nil
}

// Close stops the session cache's cleanup goroutine.
func (s *Server) Close() {
	s.sessions.close()
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, codeParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, codeInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	// Notifications are accepted and dropped.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, req)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		// Session expired or invalid - client must re-initialize
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	ctx := auth.WithPrincipal(r.Context(), sess.principal)

	switch req.Method {
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.sendResult(w, req.ID, map[string]any{"tools": toolDefinitions()})
	case "tools/call":
		s.handleToolCall(ctx, w, req)
	default:
		s.sendError(w, req.ID, codeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

// handleInitialize authenticates the caller and opens a session.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	token, err := auth.BearerFromRequest(r)
	if err != nil {
		s.sendError(w, req.ID, gateway.CodeUnauthorized, "authentication required", nil)
		return
	}
	principal, err := s.verifier.Verify(token)
	if err != nil {
		s.sendError(w, req.ID, gateway.CodeUnauthorized, "invalid or expired token", nil)
		return
	}

	sess := s.sessions.create(principal)
	w.Header().Set("Mcp-Session-Id", sess.id)

	s.logger.Info("MCP session initialized",
		"session_id", sess.id,
		"subject", principal.Subject,
		"auth_method", string(principal.Method),
	)

	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo": map[string]any{
			"name":    "mcp-gateway-registry",
			"version": "1.0.0",
		},
	})
}

// handleToolCall dispatches tools/call to the registry tool handlers.
func (s *Server) handleToolCall(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(w, req.ID, codeInvalidRequest, "invalid tools/call params", nil)
		return
	}

	handler, ok := s.toolHandler(params.Name)
	if !ok {
		s.sendError(w, req.ID, gateway.CodeNotFound, "unknown tool: "+params.Name, nil)
		return
	}

	result, gwErr := handler(ctx, auth.FromContext(ctx), params.Arguments)
	if gwErr != nil {
		s.logger.Debug("tool call failed", "tool", params.Name, "kind", string(gwErr.Kind))
		s.sendError(w, req.ID, gwErr.Code(), gwErr.Message, map[string]any{"kind": string(gwErr.Kind)})
		return
	}

	// MCP tool results carry JSON content as text.
	encoded, err := json.Marshal(result)
	if err != nil {
		s.sendError(w, req.ID, gateway.CodeInternal, "encoding tool result", nil)
		return
	}
	s.sendResult(w, req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(encoded)}},
	})
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	s.send(w, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	if id == nil {
		id = json.RawMessage("null")
	}
	s.send(w, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(w http.ResponseWriter, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}
