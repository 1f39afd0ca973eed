// ABOUTME: Registry tool handlers: registration admin, health, and discovery
// ABOUTME: Each handler authorizes the caller's principal before touching the store

package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/gateway"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/index"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// toolHandlerFunc executes one registry tool for an authenticated principal.
type toolHandlerFunc func(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error)

// toolHandler resolves a registry tool by name.
func (s *Server) toolHandler(name string) (toolHandlerFunc, bool) {
	handlers := map[string]toolHandlerFunc{
		"list_services":           s.handleListServices,
		"register_service":        s.handleRegisterService,
		"remove_service":          s.handleRemoveService,
		"toggle_service":          s.handleToggleService,
		"healthcheck":             s.handleHealthcheck,
		"intelligent_tool_finder": s.handleToolFinder,
		"get_server_details":      s.handleServerDetails,
		"get_service_tools":       s.handleServiceTools,
		"refresh_service":         s.handleRefreshService,
	}
	h, ok := handlers[name]
	return h, ok
}

// serviceView is the JSON shape returned for a registered service.
type serviceView struct {
	ServerName      string   `json:"server_name"`
	Path            string   `json:"path"`
	ProxyPassURL    string   `json:"proxy_pass_url"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags"`
	NumTools        int      `json:"num_tools"`
	NumStars        int      `json:"num_stars"`
	IsPython        bool     `json:"is_python"`
	License         string   `json:"license"`
	Enabled         bool     `json:"enabled"`
	HealthStatus    string   `json:"health_status"`
	LastHealthCheck string   `json:"last_health_check,omitempty"`
}

func viewOf(svc *store.ServiceRecord) serviceView {
	v := serviceView{
		ServerName:   svc.DisplayName,
		Path:         svc.Path,
		ProxyPassURL: svc.ProxyTargetURL,
		Description:  svc.Description,
		Tags:         svc.Tags,
		NumTools:     svc.ToolCount,
		NumStars:     svc.StarRating,
		IsPython:     svc.IsPython,
		License:      svc.License,
		Enabled:      svc.Enabled,
		HealthStatus: string(svc.HealthStatus),
	}
	if svc.LastHealthCheckAt != nil {
		v.LastHealthCheck = svc.LastHealthCheckAt.UTC().Format(time.RFC3339)
	}
	return v
}

// requireAdmin gates mutating registry operations.
func (s *Server) requireAdmin(p *auth.Principal, servicePath string) *gateway.Error {
	if p == nil {
		return gateway.UnauthorizedError("authentication required")
	}
	if decision := s.authz.Evaluate(p, auth.OperationAdmin, servicePath, ""); !decision.Allowed {
		return gateway.ForbiddenError("insufficient scope")
	}
	return nil
}

func (s *Server) handleListServices(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	if p == nil {
		return nil, gateway.UnauthorizedError("authentication required")
	}
	filter := store.Filter{EnabledOnly: argBool(args, "enabled_only")}
	services, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, gateway.InternalError("listing services", err)
	}

	views := []serviceView{}
	for _, svc := range services {
		if !s.authz.Evaluate(p, auth.OperationRead, svc.Path, "").Allowed {
			continue
		}
		views = append(views, viewOf(svc))
	}
	return map[string]any{"services": views, "total_count": len(views)}, nil
}

func (s *Server) handleRegisterService(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "path")
	if gwErr := s.requireAdmin(p, path); gwErr != nil {
		return nil, gwErr
	}

	record := &store.ServiceRecord{
		Path:           path,
		DisplayName:    argString(args, "server_name"),
		ProxyTargetURL: argString(args, "proxy_pass_url"),
		Description:    argString(args, "description"),
		Tags:           argStringSlice(args, "tags"),
		StarRating:     argInt(args, "num_stars"),
		IsPython:       argBool(args, "is_python"),
		License:        argString(args, "license"),
	}

	stored, err := s.store.Register(ctx, record)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicatePath):
			return nil, gateway.ConflictError("service path already registered")
		case errors.Is(err, store.ErrInvalidRecord):
			return nil, gateway.InvalidArgumentError(err.Error())
		default:
			return nil, gateway.InternalError("registering service", err)
		}
	}

	s.logger.Info("service registered", "path", stored.Path, "subject", p.Subject)
	return viewOf(stored), nil
}

func (s *Server) handleRemoveService(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "service_path")
	if path == "" {
		return nil, gateway.InvalidArgumentError("service_path is required")
	}
	if gwErr := s.requireAdmin(p, path); gwErr != nil {
		return nil, gwErr
	}

	if err := s.store.Remove(ctx, path); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.NotFoundError("service not found")
		}
		return nil, gateway.InternalError("removing service", err)
	}

	s.logger.Info("service removed", "path", path, "subject", p.Subject)
	return map[string]any{"removed": true, "path": path}, nil
}

func (s *Server) handleToggleService(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "service_path")
	if path == "" {
		return nil, gateway.InvalidArgumentError("service_path is required")
	}
	if gwErr := s.requireAdmin(p, path); gwErr != nil {
		return nil, gwErr
	}

	enabled, err := s.store.Toggle(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.NotFoundError("service not found")
		}
		return nil, gateway.InternalError("toggling service", err)
	}

	s.logger.Info("service toggled", "path", path, "enabled", enabled, "subject", p.Subject)
	return map[string]any{"path": path, "enabled": enabled}, nil
}

func (s *Server) handleHealthcheck(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	if gwErr := s.requireAdmin(p, ""); gwErr != nil {
		return nil, gwErr
	}
	if s.health == nil {
		return nil, gateway.InternalError("health monitor not configured", nil)
	}

	snapshot, err := s.health.Snapshot(ctx)
	if err != nil {
		return nil, gateway.InternalError("reading health snapshot", err)
	}

	statuses := map[string]any{}
	for path, sh := range snapshot {
		entry := map[string]any{
			"status":      string(sh.Status),
			"in_progress": sh.InProgress,
		}
		if sh.LastChecked != nil {
			entry["last_checked"] = sh.LastChecked.UTC().Format(time.RFC3339)
		}
		statuses[path] = entry
	}
	return map[string]any{"services": statuses}, nil
}

func (s *Server) handleToolFinder(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	if p == nil {
		return nil, gateway.UnauthorizedError("authentication required")
	}
	if s.finder == nil {
		return nil, gateway.InternalError("tool finder not configured", nil)
	}

	q := index.Query{
		Text:         argString(args, "natural_language_query"),
		Tags:         argStringSlice(args, "tags"),
		TopKServices: argInt(args, "top_k_services"),
		TopNTools:    argInt(args, "top_n_tools"),
	}

	matches, err := s.finder.FindTools(ctx, p, q)
	if err != nil {
		if errors.Is(err, index.ErrMissingInput) {
			return nil, gateway.InvalidArgumentError("either natural_language_query or tags must be provided")
		}
		return nil, gateway.InternalError("finding tools", err)
	}
	return map[string]any{"matches": matches, "total_count": len(matches)}, nil
}

func (s *Server) handleServerDetails(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "service_path")
	if path == "" {
		return nil, gateway.InvalidArgumentError("service_path is required")
	}
	svc, gwErr := s.readableService(ctx, p, path)
	if gwErr != nil {
		return nil, gwErr
	}
	return viewOf(svc), nil
}

func (s *Server) handleServiceTools(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "service_path")
	if path == "" {
		return nil, gateway.InvalidArgumentError("service_path is required")
	}
	svc, gwErr := s.readableService(ctx, p, path)
	if gwErr != nil {
		return nil, gwErr
	}

	tools := svc.ToolCatalog
	if tools == nil {
		tools = []store.ToolDescriptor{}
	}
	return map[string]any{"path": path, "tools": tools, "tool_count": len(tools)}, nil
}

func (s *Server) handleRefreshService(ctx context.Context, p *auth.Principal, args map[string]any) (any, *gateway.Error) {
	path := argString(args, "service_path")
	if path == "" {
		return nil, gateway.InvalidArgumentError("service_path is required")
	}
	if gwErr := s.requireAdmin(p, path); gwErr != nil {
		return nil, gwErr
	}
	if s.refresher == nil {
		return nil, gateway.InternalError("catalog refresher not configured", nil)
	}

	tools, err := s.refresher.Refresh(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.NotFoundError("service not found")
		}
		return nil, gateway.UpstreamUnavailableError("refreshing tool catalog", err)
	}

	s.logger.Info("catalog refreshed via tool call", "path", path, "tools", len(tools), "subject", p.Subject)
	return map[string]any{"path": path, "tools": tools, "tool_count": len(tools)}, nil
}

// readableService loads a service for read access. Principals without a
// read grant see the same "not found" as a truly missing path.
func (s *Server) readableService(ctx context.Context, p *auth.Principal, path string) (*store.ServiceRecord, *gateway.Error) {
	if p == nil {
		return nil, gateway.UnauthorizedError("authentication required")
	}
	if !s.authz.Evaluate(p, auth.OperationRead, path, "").Allowed {
		return nil, gateway.NotFoundError("service not found")
	}
	svc, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.NotFoundError("service not found")
		}
		return nil, gateway.InternalError("loading service", err)
	}
	return svc, nil
}

// Argument extraction helpers. MCP arguments arrive as untyped JSON.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
