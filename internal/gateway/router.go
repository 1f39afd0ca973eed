// ABOUTME: Router/proxy handling inbound calls: resolve, authorize, forward, relay
// ABOUTME: One forward attempt per call, bounded timeout, no automatic retries

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// MaxProxyRequestSize caps inbound proxied request bodies (4MB).
const MaxProxyRequestSize = 4 << 20

// DefaultForwardTimeout bounds a single backend call.
const DefaultForwardTimeout = 30 * time.Second

// Call outcomes recorded for observability.
const (
	outcomeCompleted      = "completed"
	outcomeRejected       = "rejected"
	outcomeUpstreamFailed = "upstream_failed"
)

// Authorizer decides whether a principal may perform an operation.
// Satisfied by *auth.Evaluator.
type Authorizer interface {
	Evaluate(p *auth.Principal, op auth.Operation, servicePath, tool string) auth.Decision
}

// Router resolves inbound RPC calls to registered backends, authorizes
// them, and forwards them. It serves the /proxy/ prefix: the first path
// segment after /proxy identifies the target service.
type Router struct {
	store     store.Store
	authz     Authorizer
	verifier  auth.TokenVerifier
	forwarder Forwarder
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRouter creates a Router. A zero timeout gets DefaultForwardTimeout.
func NewRouter(st store.Store, authz Authorizer, verifier auth.TokenVerifier, forwarder Forwarder, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return &Router{
		store:     st,
		authz:     authz,
		verifier:  verifier,
		forwarder: forwarder,
		timeout:   timeout,
		logger:    slog.Default().With("component", "router"),
	}
}

// proxyRequest is the minimal envelope the router needs to see; the
// body itself is forwarded verbatim.
type proxyRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  struct {
		Name string `json:"name"`
	} `json:"params"`
}

// ServeHTTP handles one inbound call through the
// RECEIVED → RESOLVED → AUTHORIZED → FORWARDED → COMPLETED pipeline,
// with REJECTED and UPSTREAM_FAILED as error exits.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	servicePath := extractServicePath(r.URL.Path)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxProxyRequestSize+1))
	if err != nil || int64(len(body)) > MaxProxyRequestSize {
		rt.reject(w, servicePath, nil, InvalidArgumentError("request body unreadable or too large"), start)
		return
	}

	var req proxyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		rt.reject(w, servicePath, nil, InvalidArgumentError("invalid JSON-RPC request"), start)
		return
	}

	// Authenticate the caller
	principal, gwErr := rt.authenticate(r)
	if gwErr != nil {
		rt.reject(w, servicePath, req.ID, gwErr, start)
		return
	}

	// RECEIVED → RESOLVED
	if servicePath == "" {
		rt.reject(w, servicePath, req.ID, NotFoundError("service not found"), start)
		return
	}
	svc, err := rt.store.Get(r.Context(), servicePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rt.reject(w, servicePath, req.ID, NotFoundError("service not found"), start)
			return
		}
		rt.reject(w, servicePath, req.ID, InternalError("resolving service", err), start)
		return
	}
	// Disabled looks identical to missing from the outside so the
	// registry's contents are not enumerable by probing.
	if !svc.Enabled {
		rt.reject(w, servicePath, req.ID, NotFoundError("service not found"), start)
		return
	}

	// RESOLVED → AUTHORIZED
	op := auth.OperationRead
	tool := ""
	if req.Method == "tools/call" {
		op = auth.OperationExecute
		tool = req.Params.Name
	}
	if decision := rt.authz.Evaluate(principal, op, servicePath, tool); !decision.Allowed {
		rt.reject(w, servicePath, req.ID, ForbiddenError("insufficient scope"), start)
		return
	}

	// AUTHORIZED → FORWARDED: verbatim body, bounded timeout, at most
	// one attempt. The per-call timeout cancels only this forward.
	forwardCtx, cancel := context.WithTimeout(r.Context(), rt.timeout)
	defer cancel()

	relayed, err := rt.forwarder.Forward(forwardCtx, svc.ProxyTargetURL, body)
	if err != nil {
		gwErr := AsError(err)
		rt.writeError(w, req.ID, gwErr)
		rt.record(servicePath, req.Method, outcomeUpstreamFailed, start)
		return
	}

	// FORWARDED → COMPLETED: relay unchanged. A backend application
	// error rides inside relayed and passes through untouched.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(relayed)
	rt.record(servicePath, req.Method, outcomeCompleted, start)
}

// authenticate builds the Principal from the bearer token.
func (rt *Router) authenticate(r *http.Request) (*auth.Principal, *Error) {
	token, err := auth.BearerFromRequest(r)
	if err != nil {
		return nil, UnauthorizedError("missing credential")
	}
	principal, err := rt.verifier.Verify(token)
	if err != nil {
		return nil, UnauthorizedError("invalid or expired credential")
	}
	return principal, nil
}

// reject writes a terminal rejection and records it.
func (rt *Router) reject(w http.ResponseWriter, servicePath string, id json.RawMessage, gwErr *Error, start time.Time) {
	rt.writeError(w, id, gwErr)
	rt.record(servicePath, "", outcomeRejected, start)
}

// writeError emits a JSON-RPC error response with the kind's code.
func (rt *Router) writeError(w http.ResponseWriter, id json.RawMessage, gwErr *Error) {
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    gwErr.Code(),
			"message": gwErr.Message,
			"data":    map[string]any{"kind": string(gwErr.Kind)},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// record logs the terminal state of a call. Runs after the response is
// written so it never delays completion.
func (rt *Router) record(servicePath, method, outcome string, start time.Time) {
	rt.logger.Info("call finished",
		"path", servicePath,
		"method", method,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// extractServicePath maps "/proxy/fininfo" (and anything nested under
// it) to "/fininfo".
func extractServicePath(urlPath string) string {
	trimmed := strings.TrimPrefix(urlPath, "/proxy")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	segment, _, _ := strings.Cut(trimmed, "/")
	return "/" + segment
}
