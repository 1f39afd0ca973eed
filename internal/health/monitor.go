// ABOUTME: Background health monitor probing enabled services on a fixed interval
// ABOUTME: Bounded concurrent fan-out; probe failures update state, never propagate

package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

// Defaults for monitor configuration.
const (
	DefaultInterval      = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultMaxConcurrent = 8
)

// Prober issues a single liveness probe against a backend target URL.
type Prober interface {
	Probe(ctx context.Context, targetURL string) error
}

// ServiceHealth is one entry of a status snapshot.
type ServiceHealth struct {
	Status      store.HealthStatus `json:"status"`
	LastChecked *time.Time         `json:"lastChecked,omitempty"`
	InProgress  bool               `json:"inProgress"`
}

// Monitor keeps healthStatus fresh for every enabled service.
type Monitor struct {
	store         store.Store
	prober        Prober
	interval      time.Duration
	probeTimeout  time.Duration
	maxConcurrent int
	logger        *slog.Logger

	// inProgress tracks paths with an outstanding probe so snapshots
	// can report them without blocking on probe completion.
	mu         sync.Mutex
	inProgress map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config holds configuration for the Monitor.
type Config struct {
	Store         store.Store
	Prober        Prober // defaults to a JSON-RPC ping prober
	Interval      time.Duration
	ProbeTimeout  time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

// NewMonitor creates a Monitor. Zero-valued config fields get defaults.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Prober == nil {
		cfg.Prober = NewPingProber(cfg.ProbeTimeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "health")
	}

	return &Monitor{
		store:         cfg.Store,
		prober:        cfg.Prober,
		interval:      cfg.Interval,
		probeTimeout:  cfg.ProbeTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger,
		inProgress:    make(map[string]bool),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start launches the monitor loop in a goroutine. The loop stops when
// ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("health monitor started", "interval", m.interval, "max_concurrent", m.maxConcurrent)

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}

// Stop halts the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// CheckAll probes every enabled service once with bounded concurrency
// and writes results back to the store. One backend's failure never
// blocks or skews another's result.
func (m *Monitor) CheckAll(ctx context.Context) {
	services, err := m.store.List(ctx, store.Filter{EnabledOnly: true})
	if err != nil {
		m.logger.Error("health sweep failed to list services", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrent)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			m.probeOne(gctx, svc)
			return nil
		})
	}
	// probeOne never returns an error; Wait only orders completion.
	_ = g.Wait()
}

// probeOne runs a single probe with its own timeout and records the
// outcome. Errors are local to the monitor.
func (m *Monitor) probeOne(ctx context.Context, svc *store.ServiceRecord) {
	m.setInProgress(svc.Path, true)
	defer m.setInProgress(svc.Path, false)

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	status := store.HealthHealthy
	if err := m.prober.Probe(probeCtx, svc.ProxyTargetURL); err != nil {
		status = store.HealthUnhealthy
		m.logger.Debug("probe failed", "path", svc.Path, "target", svc.ProxyTargetURL, "error", err)
	}

	if err := m.store.UpdateHealth(ctx, svc.Path, status, time.Now().UTC()); err != nil {
		// Service may have been removed mid-sweep.
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("recording health failed", "path", svc.Path, "error", err)
		}
	}
}

// Snapshot returns the last-known health of every registered service
// without waiting for outstanding probes.
func (m *Monitor) Snapshot(ctx context.Context) (map[string]ServiceHealth, error) {
	services, err := m.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]ServiceHealth, len(services))
	for _, svc := range services {
		snapshot[svc.Path] = ServiceHealth{
			Status:      svc.HealthStatus,
			LastChecked: svc.LastHealthCheckAt,
			InProgress:  m.inProgress[svc.Path],
		}
	}
	return snapshot, nil
}

func (m *Monitor) setInProgress(path string, v bool) {
	m.mu.Lock()
	if v {
		m.inProgress[path] = true
	} else {
		delete(m.inProgress, path)
	}
	m.mu.Unlock()
}

// PingProber probes a backend with a JSON-RPC ping request, the
// lightweight liveness method MCP servers answer without side effects.
type PingProber struct {
	client *http.Client
}

// NewPingProber creates a PingProber with the given per-request timeout.
func NewPingProber(timeout time.Duration) *PingProber {
	return &PingProber{client: &http.Client{Timeout: timeout}}
}

type pingResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Probe sends {"method":"ping"} to the target. A 2xx response whose
// body is not a JSON-RPC error counts as healthy.
func (p *PingProber) Probe(ctx context.Context, targetURL string) error {
	body := []byte(`{"jsonrpc":"2.0","id":"health-probe","method":"ping"}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading probe response: %w", err)
	}
	var parsed pingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decoding probe response: %w", err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("backend error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return nil
}
