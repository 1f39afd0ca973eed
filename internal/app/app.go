// ABOUTME: Application orchestrator wiring store, auth, health, discovery, and HTTP surfaces
// ABOUTME: Manages component lifecycle: listener setup, health monitor, graceful shutdown

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/config"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/gateway"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/health"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/index"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/mcp"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// App orchestrates the registry-gateway server components: the SQLite
// registry store, the scope policy evaluator, the health monitor, the
// discovery index, the proxy router, and the registry's own MCP surface.
type App struct {
	config    *config.Config
	store     store.Store
	evaluator *auth.Evaluator
	verifier  *auth.JWTVerifier
	clients   *auth.ClientRegistry
	monitor   *health.Monitor
	router    *gateway.Router
	mcpServer *mcp.Server

	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store from config, honoring the
// REGISTRY_DB_PATH environment override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("REGISTRY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new App instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	evaluator, err := auth.NewEvaluator(cfg.Auth.PolicyPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading scope policy: %w", err)
	}

	machineClients := make([]auth.MachineClient, 0, len(cfg.Auth.Clients))
	for _, c := range cfg.Auth.Clients {
		machineClients = append(machineClients, auth.MachineClient{
			ID:         c.ID,
			SecretHash: c.SecretHash,
			Scopes:     c.Scopes,
		})
	}
	clients := auth.NewClientRegistry(machineClients, verifier, cfg.Auth.TokenTTL)

	monitor, err := health.NewMonitor(health.Config{
		Store:         s,
		Interval:      cfg.Health.Interval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		MaxConcurrent: cfg.Health.MaxConcurrent,
		Logger:        logger.With("component", "health"),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating health monitor: %w", err)
	}

	backend := gateway.NewBackendClient(cfg.Proxy.ForwardTimeout)
	finder := index.NewFinder(s, evaluator, nil)
	refresher := index.NewRefresher(s, backend)
	router := gateway.NewRouter(s, evaluator, verifier, backend, cfg.Proxy.ForwardTimeout)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Store:     s,
		Health:    monitor,
		Finder:    finder,
		Refresher: refresher,
		Authz:     evaluator,
		Verifier:  verifier,
		Logger:    logger.With("component", "mcp"),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	a := &App{
		config:    cfg,
		store:     s,
		evaluator: evaluator,
		verifier:  verifier,
		clients:   clients,
		monitor:   monitor,
		router:    router,
		mcpServer: mcpServer,
		logger:    logger.With("component", "app"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/health/ready", a.handleReady)
	mux.HandleFunc("/oauth2/token", a.handleTokenExchange)
	mux.Handle("/proxy/", router)
	mcpServer.RegisterRoutes(mux)

	a.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ReloadPolicy re-reads the scope policy file and swaps it in. On
// failure the previous policy stays in effect.
func (a *App) ReloadPolicy() error {
	return a.evaluator.Reload()
}

// Run starts the HTTP server and the health monitor and blocks until
// the context is canceled. Returns nil on graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.config.Server.HTTPAddr, err)
	}

	a.monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		a.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		a.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := a.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops the HTTP server, the health monitor, and the
// store, in that order.
func (a *App) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	a.monitor.Stop()
	a.mcpServer.Close()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// handleHealth reports process liveness.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReady reports readiness: the store must answer a trivial query.
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.List(r.Context(), store.Filter{}); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// tokenResponse is the OAuth2-shaped response of the exchange endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleTokenExchange implements the client-credentials grant for
// machine clients declared in config.
func (a *App) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostFormValue("grant_type") != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" || clientSecret == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	token, expiresIn, err := a.clients.Exchange(clientID, clientSecret)
	if err != nil {
		a.logger.Warn("credential exchange refused", "client_id", clientID)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	a.logger.Info("token issued", "client_id", clientID, "expires_in", expiresIn.String())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(expiresIn.Seconds()),
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
