package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/store"
)

func setupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func registerService(t *testing.T, s store.Store, path, target string) {
	t.Helper()
	_, err := s.Register(context.Background(), &store.ServiceRecord{
		Path:           path,
		DisplayName:    "Service " + path,
		ProxyTargetURL: target,
	})
	require.NoError(t, err)
}

func pingBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"health-probe","result":{}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMonitor(t *testing.T, s store.Store, timeout time.Duration) *Monitor {
	t.Helper()
	m, err := NewMonitor(Config{
		Store:        s,
		Interval:     time.Hour, // ticks driven manually via CheckAll
		ProbeTimeout: timeout,
	})
	require.NoError(t, err)
	return m
}

func TestMonitor_HealthyBackend(t *testing.T) {
	s := setupTestStore(t)
	backend := pingBackend(t)
	registerService(t, s, "/alpha", backend.URL)

	m := newTestMonitor(t, s, 2*time.Second)
	m.CheckAll(context.Background())

	got, err := s.Get(context.Background(), "/alpha")
	require.NoError(t, err)
	assert.Equal(t, store.HealthHealthy, got.HealthStatus)
	assert.NotNil(t, got.LastHealthCheckAt)
}

func TestMonitor_UnreachableBackend(t *testing.T) {
	s := setupTestStore(t)
	// Port from a closed listener: connection refused
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	registerService(t, s, "/alpha", deadURL)

	m := newTestMonitor(t, s, 2*time.Second)
	m.CheckAll(context.Background())

	got, err := s.Get(context.Background(), "/alpha")
	require.NoError(t, err)
	assert.Equal(t, store.HealthUnhealthy, got.HealthStatus)
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	s := setupTestStore(t)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
	})
	registerService(t, s, "/slow", slow.URL)

	m := newTestMonitor(t, s, 100*time.Millisecond)
	m.CheckAll(context.Background())

	got, err := s.Get(context.Background(), "/slow")
	require.NoError(t, err)
	assert.Equal(t, store.HealthUnhealthy, got.HealthStatus)
}

func TestMonitor_ProtocolErrorIsUnhealthy(t *testing.T) {
	s := setupTestStore(t)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"health-probe","error":{"code":-32601,"message":"method not found"}}`))
	}))
	t.Cleanup(failing.Close)
	registerService(t, s, "/broken", failing.URL)

	m := newTestMonitor(t, s, 2*time.Second)
	m.CheckAll(context.Background())

	got, err := s.Get(context.Background(), "/broken")
	require.NoError(t, err)
	assert.Equal(t, store.HealthUnhealthy, got.HealthStatus)
}

func TestMonitor_SkipsDisabledServices(t *testing.T) {
	s := setupTestStore(t)
	var probes atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":"health-probe","result":{}}`))
	}))
	t.Cleanup(backend.Close)
	registerService(t, s, "/alpha", backend.URL)

	ctx := context.Background()
	m := newTestMonitor(t, s, 2*time.Second)

	m.CheckAll(ctx)
	require.EqualValues(t, 1, probes.Load())

	_, err := s.Toggle(ctx, "/alpha")
	require.NoError(t, err)

	m.CheckAll(ctx)
	assert.EqualValues(t, 1, probes.Load(), "disabled service must not be probed")
}

func TestMonitor_OneFailureDoesNotSkewOthers(t *testing.T) {
	s := setupTestStore(t)
	healthy := pingBackend(t)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	registerService(t, s, "/good", healthy.URL)
	registerService(t, s, "/bad", deadURL)

	m := newTestMonitor(t, s, 2*time.Second)
	m.CheckAll(context.Background())

	good, err := s.Get(context.Background(), "/good")
	require.NoError(t, err)
	assert.Equal(t, store.HealthHealthy, good.HealthStatus)

	bad, err := s.Get(context.Background(), "/bad")
	require.NoError(t, err)
	assert.Equal(t, store.HealthUnhealthy, bad.HealthStatus)
}

func TestMonitor_Snapshot(t *testing.T) {
	s := setupTestStore(t)
	backend := pingBackend(t)
	registerService(t, s, "/alpha", backend.URL)
	registerService(t, s, "/beta", backend.URL)

	ctx := context.Background()
	m := newTestMonitor(t, s, 2*time.Second)

	// Before any tick: unknown, no probe outstanding
	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, store.HealthUnknown, snap["/alpha"].Status)
	assert.False(t, snap["/alpha"].InProgress)

	m.CheckAll(ctx)

	snap, err = m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.HealthHealthy, snap["/alpha"].Status)
	assert.Equal(t, store.HealthHealthy, snap["/beta"].Status)
}

func TestMonitor_SnapshotIncludesDisabled(t *testing.T) {
	s := setupTestStore(t)
	backend := pingBackend(t)
	registerService(t, s, "/alpha", backend.URL)

	ctx := context.Background()
	m := newTestMonitor(t, s, 2*time.Second)
	m.CheckAll(ctx)

	_, err := s.Toggle(ctx, "/alpha")
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, "/alpha")
	// Status frozen at last observation
	assert.Equal(t, store.HealthHealthy, snap["/alpha"].Status)
}

func TestMonitor_StartStop(t *testing.T) {
	s := setupTestStore(t)
	backend := pingBackend(t)
	registerService(t, s, "/alpha", backend.URL)

	m, err := NewMonitor(Config{
		Store:        s,
		Interval:     20 * time.Millisecond,
		ProbeTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := s.Get(context.Background(), "/alpha")
		return err == nil && got.HealthStatus == store.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
}
