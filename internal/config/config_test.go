package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
database:
  path: "data/registry.db"
auth:
  jwt_secret: "super-secret"
  policy_path: "config/scopes.toml"
  token_ttl: "15m"
health:
  interval: "30s"
  probe_timeout: "5s"
  max_concurrent: 4
proxy:
  forward_timeout: "20s"
logging:
  level: "debug"
  format: "json"
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "data/registry.db", cfg.Database.Path)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 4, cfg.Health.MaxConcurrent)
	assert.Equal(t, 20*time.Second, cfg.Proxy.ForwardTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "data/registry.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
  policy_path: "config/scopes.toml"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "data/registry.db"
auth:
  jwt_secret: "s"
  policy_path: "p"
health:
  interval: "not-a-duration"
`))
	assert.Error(t, err)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"no http addr": `
database: {path: "x"}
auth: {jwt_secret: "s", policy_path: "p"}
`,
		"no database path": `
server: {http_addr: ":8080"}
auth: {jwt_secret: "s", policy_path: "p"}
`,
		"no jwt secret": `
server: {http_addr: ":8080"}
database: {path: "x"}
auth: {policy_path: "p"}
`,
		"no policy path": `
server: {http_addr: ":8080"}
database: {path: "x"}
auth: {jwt_secret: "s"}
`,
		"client without hash": `
server: {http_addr: ":8080"}
database: {path: "x"}
auth:
  jwt_secret: "s"
  policy_path: "p"
  clients:
    - id: "ci"
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
