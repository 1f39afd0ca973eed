// ABOUTME: Explicit catalog refresh pulling a service's tool list from its backend
// ABOUTME: Writes through the store's catalog field; never triggered by discovery

package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// CatalogSource fetches the current tool list from a backend target.
// Satisfied by the gateway's JSON-RPC backend client.
type CatalogSource interface {
	ListTools(ctx context.Context, targetURL string) ([]store.ToolDescriptor, error)
}

// Refresher re-fetches a service's tool catalog on demand.
type Refresher struct {
	store  store.Store
	source CatalogSource
	logger *slog.Logger
}

// NewRefresher creates a Refresher over the given store and source.
func NewRefresher(st store.Store, source CatalogSource) *Refresher {
	return &Refresher{
		store:  st,
		source: source,
		logger: slog.Default().With("component", "catalog"),
	}
}

// Refresh fetches the backend's tool list and replaces the cached
// catalog. Tools no longer present upstream are dropped. Returns the
// new catalog.
func (r *Refresher) Refresh(ctx context.Context, path string) ([]store.ToolDescriptor, error) {
	svc, err := r.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	tools, err := r.source.ListTools(ctx, svc.ProxyTargetURL)
	if err != nil {
		return nil, fmt.Errorf("fetching tool list for %s: %w", path, err)
	}

	if err := r.store.ReplaceToolCatalog(ctx, path, tools); err != nil {
		return nil, err
	}

	r.logger.Info("catalog refreshed", "path", path, "tools", len(tools))
	return tools, nil
}
