// ABOUTME: JSON-RPC client for backend MCP servers behind the gateway
// ABOUTME: One capability interface: forward a call, return result-or-error

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// MaxBackendResponseSize caps relayed backend responses (8MB).
const MaxBackendResponseSize = 8 << 20

// Forwarder forwards a raw JSON-RPC request body to a backend target
// and returns the raw response body. The router is agnostic to backend
// specifics; protocol or auth adaptation belongs in implementations of
// this interface.
type Forwarder interface {
	Forward(ctx context.Context, targetURL string, body []byte) ([]byte, error)
}

// BackendClient is the HTTP JSON-RPC implementation of Forwarder, also
// used to fetch tool catalogs for refresh.
type BackendClient struct {
	client *http.Client
}

// NewBackendClient creates a client with the given per-call timeout.
// A zero timeout gets DefaultForwardTimeout.
func NewBackendClient(timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return &BackendClient{client: &http.Client{Timeout: timeout}}
}

// Forward posts body to targetURL verbatim and returns the response
// bytes unchanged. Transport failures and non-2xx statuses are
// UpstreamUnavailable; a well-formed JSON-RPC error from the backend
// is NOT an error here, it is a response to relay.
func (c *BackendClient) Forward(ctx context.Context, targetURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, InternalError("building backend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, UpstreamUnavailableError("backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, UpstreamUnavailableError(fmt.Sprintf("backend returned status %d", resp.StatusCode), nil)
	}

	relayed, err := io.ReadAll(io.LimitReader(resp.Body, MaxBackendResponseSize))
	if err != nil {
		return nil, UpstreamUnavailableError("reading backend response", err)
	}
	if !json.Valid(relayed) {
		return nil, UpstreamUnavailableError("backend returned malformed response", nil)
	}
	return relayed, nil
}

// toolsListResult mirrors the MCP tools/list result shape.
type toolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
		Tags        []string       `json:"tags"`
	} `json:"tools"`
}

// ListTools fetches the backend's tool catalog via tools/list.
func (c *BackendClient) ListTools(ctx context.Context, targetURL string) ([]store.ToolDescriptor, error) {
	body := []byte(`{"jsonrpc":"2.0","id":"catalog-refresh","method":"tools/list"}`)

	raw, err := c.Forward(ctx, targetURL, body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result *toolsListResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, UpstreamUnavailableError("decoding tools/list response", err)
	}
	if resp.Error != nil {
		return nil, UpstreamUnavailableError(
			fmt.Sprintf("backend refused tools/list: %d %s", resp.Error.Code, resp.Error.Message), nil)
	}
	if resp.Result == nil {
		return nil, UpstreamUnavailableError("backend tools/list returned no result", nil)
	}

	tools := make([]store.ToolDescriptor, 0, len(resp.Result.Tools))
	for _, t := range resp.Result.Tools {
		tools = append(tools, store.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Tags:        t.Tags,
		})
	}
	return tools, nil
}
