package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/gateway"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/health"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/index"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

const testSecret = "mcp-test-secret"

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

type staticHealth struct {
	snapshot map[string]health.ServiceHealth
}

func (s staticHealth) Snapshot(context.Context) (map[string]health.ServiceHealth, error) {
	return s.snapshot, nil
}

type staticRefresher struct {
	tools []store.ToolDescriptor
	err   error
}

func (s staticRefresher) Refresh(context.Context, string) ([]store.ToolDescriptor, error) {
	return s.tools, s.err
}

func testPolicy() *auth.Policy {
	return &auth.Policy{Scopes: map[string]auth.ScopeGrant{
		"registry-admin": {Admin: true, Unrestricted: true, Operations: []string{"read", "execute"}},
		"fininfo-user": {
			Operations: []string{"read", "execute"},
			Servers:    []auth.ServerGrant{{Path: "/fininfo"}},
		},
	}}
}

type testEnv struct {
	server   *Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier([]byte(testSecret))
	evaluator := auth.NewStaticEvaluator(testPolicy())

	srv, err := NewServer(Config{
		Store:     st,
		Health:    staticHealth{snapshot: map[string]health.ServiceHealth{}},
		Finder:    index.NewFinder(st, evaluator, nil),
		Refresher: staticRefresher{},
		Authz:     evaluator,
		Verifier:  verifier,
	})
	require.NoError(t, err)

	return &testEnv{server: srv, store: st, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, subject string, scopes []string) string {
	t.Helper()
	tok, err := e.verifier.Generate(subject, scopes, "", time.Minute)
	require.NoError(t, err)
	return tok
}

// post sends one JSON-RPC request through the handler and decodes the response.
func (e *testEnv) post(t *testing.T, sessionID, token, method string, params any) (*httptest.ResponseRecorder, *rpcResponse) {
	t.Helper()

	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.handleMCP(rec, req)

	resp := &rpcResponse{}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	}
	return rec, resp
}

// initSession runs the initialize handshake and returns the session id.
func (e *testEnv) initSession(t *testing.T, token string) string {
	t.Helper()
	rec, resp := e.post(t, "", token, "initialize", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	return sessionID
}

// callTool invokes tools/call and unmarshals the text content into out.
func (e *testEnv) callTool(t *testing.T, sessionID, name string, args map[string]any, out any) *JSONRPCError {
	t.Helper()
	_, resp := e.post(t, sessionID, "", "tools/call", map[string]any{"name": name, "arguments": args})
	if resp.Error != nil {
		return resp.Error
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), out))
	}
	return nil
}

func registerArgs(path string) map[string]any {
	return map[string]any{
		"server_name":    "Financial Info",
		"path":           path,
		"proxy_pass_url": "http://backend:8001/",
		"description":    "Stock aggregates and tickers",
		"tags":           []string{"finance", "stocks"},
		"license":        "MIT",
	}
}

func TestInitialize_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "", "", "initialize", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, gateway.CodeUnauthorized, resp.Error.Code)

	rec, resp = env.post(t, "", "not-a-jwt", "initialize", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, gateway.CodeUnauthorized, resp.Error.Code)
}

func TestInitialize_OpensSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin@example.com", []string{"registry-admin"})

	rec, resp := env.post(t, "", token, "initialize", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestRequest_WithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.post(t, "", "", "tools/list", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.post(t, "no-such-session", "", "tools/list", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec := httptest.NewRecorder()
	env.server.handleMCP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec2, _ := env.post(t, sessionID, "", "tools/list", nil)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestNotification_Accepted(t *testing.T) {
	env := newTestEnv(t)

	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	env.server.handleMCP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPingAndToolsList(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	rec, resp := env.post(t, sessionID, "", "ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)

	_, resp = env.post(t, sessionID, "", "tools/list", nil)
	require.Nil(t, resp.Error)
	var result struct {
		Tools []toolDefinition `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Len(t, result.Tools, 9)

	names := map[string]bool{}
	for _, tool := range result.Tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.InputSchema)
	}
	assert.True(t, names["register_service"])
	assert.True(t, names["intelligent_tool_finder"])
}

func TestRegisterService_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	adminSession := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))
	userSession := env.initSession(t, env.token(t, "user", []string{"fininfo-user"}))

	rpcErr := env.callTool(t, userSession, "register_service", registerArgs("/fininfo"), nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeForbidden, rpcErr.Code)

	var view serviceView
	rpcErr = env.callTool(t, adminSession, "register_service", registerArgs("/fininfo"), &view)
	require.Nil(t, rpcErr)
	assert.Equal(t, "/fininfo", view.Path)
	assert.Equal(t, "Financial Info", view.ServerName)
	assert.True(t, view.Enabled)
	assert.Equal(t, "unknown", view.HealthStatus)
}

func TestRegisterService_DuplicateAndInvalid(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	require.Nil(t, env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil))

	rpcErr := env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeConflict, rpcErr.Code)

	bad := registerArgs("/bad")
	bad["proxy_pass_url"] = "not-a-url"
	rpcErr = env.callTool(t, sessionID, "register_service", bad, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeInvalidArgument, rpcErr.Code)
}

func TestListServices_FilteredByReadAccess(t *testing.T) {
	env := newTestEnv(t)
	adminSession := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))
	userSession := env.initSession(t, env.token(t, "user", []string{"fininfo-user"}))

	require.Nil(t, env.callTool(t, adminSession, "register_service", registerArgs("/fininfo"), nil))
	other := registerArgs("/weather")
	other["server_name"] = "Weather"
	require.Nil(t, env.callTool(t, adminSession, "register_service", other, nil))

	var adminList struct {
		Services   []serviceView `json:"services"`
		TotalCount int           `json:"total_count"`
	}
	require.Nil(t, env.callTool(t, adminSession, "list_services", nil, &adminList))
	assert.Equal(t, 2, adminList.TotalCount)

	var userList struct {
		Services   []serviceView `json:"services"`
		TotalCount int           `json:"total_count"`
	}
	require.Nil(t, env.callTool(t, userSession, "list_services", nil, &userList))
	require.Equal(t, 1, userList.TotalCount)
	assert.Equal(t, "/fininfo", userList.Services[0].Path)
}

func TestListServices_EnabledOnly(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	require.Nil(t, env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil))
	other := registerArgs("/weather")
	other["server_name"] = "Weather"
	require.Nil(t, env.callTool(t, sessionID, "register_service", other, nil))
	require.Nil(t, env.callTool(t, sessionID, "toggle_service", map[string]any{"service_path": "/weather"}, nil))

	var filtered struct {
		Services   []serviceView `json:"services"`
		TotalCount int           `json:"total_count"`
	}
	require.Nil(t, env.callTool(t, sessionID, "list_services", map[string]any{"enabled_only": true}, &filtered))
	require.Equal(t, 1, filtered.TotalCount)
	assert.Equal(t, "/fininfo", filtered.Services[0].Path)

	var all struct {
		TotalCount int `json:"total_count"`
	}
	require.Nil(t, env.callTool(t, sessionID, "list_services", nil, &all))
	assert.Equal(t, 2, all.TotalCount)
}

func TestToggleAndRemove(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	require.Nil(t, env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil))

	var toggled struct {
		Enabled bool `json:"enabled"`
	}
	args := map[string]any{"service_path": "/fininfo"}
	require.Nil(t, env.callTool(t, sessionID, "toggle_service", args, &toggled))
	assert.False(t, toggled.Enabled)

	var removed struct {
		Removed bool `json:"removed"`
	}
	require.Nil(t, env.callTool(t, sessionID, "remove_service", args, &removed))
	assert.True(t, removed.Removed)

	rpcErr := env.callTool(t, sessionID, "remove_service", args, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeNotFound, rpcErr.Code)
}

func TestServerDetails_UnreadableLooksMissing(t *testing.T) {
	env := newTestEnv(t)
	adminSession := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))
	userSession := env.initSession(t, env.token(t, "user", []string{"fininfo-user"}))

	require.Nil(t, env.callTool(t, adminSession, "register_service", registerArgs("/fininfo"), nil))
	secret := registerArgs("/secret")
	secret["server_name"] = "Secret"
	require.Nil(t, env.callTool(t, adminSession, "register_service", secret, nil))

	var view serviceView
	require.Nil(t, env.callTool(t, userSession, "get_server_details", map[string]any{"service_path": "/fininfo"}, &view))
	assert.Equal(t, "Financial Info", view.ServerName)

	// A service the caller cannot read and a missing one are identical.
	for _, path := range []string{"/secret", "/missing"} {
		rpcErr := env.callTool(t, userSession, "get_server_details", map[string]any{"service_path": path}, nil)
		require.NotNil(t, rpcErr, path)
		assert.Equal(t, gateway.CodeNotFound, rpcErr.Code, path)
	}
}

func TestServiceTools_ReturnsCatalog(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	require.Nil(t, env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil))
	catalog := []store.ToolDescriptor{
		{Name: "get_stock_aggregates", Description: "Daily stock price aggregates"},
		{Name: "print_stock_data", Description: "Render stock data as a table"},
	}
	require.NoError(t, env.store.ReplaceToolCatalog(context.Background(), "/fininfo", catalog))

	var result struct {
		Tools     []store.ToolDescriptor `json:"tools"`
		ToolCount int                    `json:"tool_count"`
	}
	require.Nil(t, env.callTool(t, sessionID, "get_service_tools", map[string]any{"service_path": "/fininfo"}, &result))
	assert.Equal(t, 2, result.ToolCount)
	assert.Equal(t, "get_stock_aggregates", result.Tools[0].Name)
}

func TestToolFinder_RanksAcrossServices(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	require.Nil(t, env.callTool(t, sessionID, "register_service", registerArgs("/fininfo"), nil))
	require.NoError(t, env.store.ReplaceToolCatalog(context.Background(), "/fininfo", []store.ToolDescriptor{
		{Name: "get_stock_aggregates", Description: "Daily stock price aggregates"},
	}))

	var result struct {
		Matches    []index.Match `json:"matches"`
		TotalCount int           `json:"total_count"`
	}
	args := map[string]any{"natural_language_query": "stock price aggregates"}
	require.Nil(t, env.callTool(t, sessionID, "intelligent_tool_finder", args, &result))
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "/fininfo", result.Matches[0].Service.Path)
	assert.Equal(t, "get_stock_aggregates", result.Matches[0].Tool.Name)

	rpcErr := env.callTool(t, sessionID, "intelligent_tool_finder", map[string]any{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeInvalidArgument, rpcErr.Code)
}

func TestHealthcheck_AdminOnly(t *testing.T) {
	env := newTestEnv(t)

	checked := time.Now()
	env.server.health = staticHealth{snapshot: map[string]health.ServiceHealth{
		"/fininfo": {Status: store.HealthHealthy, LastChecked: &checked},
	}}

	userSession := env.initSession(t, env.token(t, "user", []string{"fininfo-user"}))
	rpcErr := env.callTool(t, userSession, "healthcheck", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeForbidden, rpcErr.Code)

	adminSession := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))
	var result struct {
		Services map[string]struct {
			Status     string `json:"status"`
			InProgress bool   `json:"in_progress"`
		} `json:"services"`
	}
	require.Nil(t, env.callTool(t, adminSession, "healthcheck", nil, &result))
	require.Contains(t, result.Services, "/fininfo")
	assert.Equal(t, "healthy", result.Services["/fininfo"].Status)
}

func TestRefreshService(t *testing.T) {
	env := newTestEnv(t)
	env.server.refresher = staticRefresher{tools: []store.ToolDescriptor{
		{Name: "get_forecast", Description: "Weather forecast"},
	}}
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	var result struct {
		ToolCount int `json:"tool_count"`
	}
	args := map[string]any{"service_path": "/weather"}
	require.Nil(t, env.callTool(t, sessionID, "refresh_service", args, &result))
	assert.Equal(t, 1, result.ToolCount)

	env.server.refresher = staticRefresher{err: store.ErrNotFound}
	rpcErr := env.callTool(t, sessionID, "refresh_service", args, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeNotFound, rpcErr.Code)

	env.server.refresher = staticRefresher{err: fmt.Errorf("connection refused")}
	rpcErr = env.callTool(t, sessionID, "refresh_service", args, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeUpstreamUnavailable, rpcErr.Code)
}

func TestUnknownToolAndMethod(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.initSession(t, env.token(t, "admin", []string{"registry-admin"}))

	rpcErr := env.callTool(t, sessionID, "no_such_tool", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gateway.CodeNotFound, rpcErr.Code)

	_, resp := env.post(t, sessionID, "", "resources/list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}
