// ABOUTME: Configuration loading and parsing for the registry gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete registry-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Health   HealthConfig   `yaml:"health"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MachineClientConfig declares one client-credentials identity.
type MachineClientConfig struct {
	ID         string   `yaml:"id"`
	SecretHash string   `yaml:"secret_hash"` // bcrypt hash
	Scopes     []string `yaml:"scopes"`
}

// AuthConfig holds authentication and policy configuration
type AuthConfig struct {
	JWTSecret  string                `yaml:"jwt_secret"`
	PolicyPath string                `yaml:"policy_path"`
	Clients    []MachineClientConfig `yaml:"clients"`

	TokenTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// HealthConfig holds health monitor timing configuration
type HealthConfig struct {
	Interval      time.Duration `yaml:"-"`
	ProbeTimeout  time.Duration `yaml:"-"`
	MaxConcurrent int           `yaml:"max_concurrent"`

	// Raw string values for YAML unmarshaling
	IntervalRaw     string `yaml:"interval"`
	ProbeTimeoutRaw string `yaml:"probe_timeout"`
}

// ProxyConfig holds router/proxy configuration
type ProxyConfig struct {
	ForwardTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ForwardTimeoutRaw string `yaml:"forward_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.PolicyPath == "" {
		return fmt.Errorf("auth.policy_path is required")
	}
	for i, client := range c.Auth.Clients {
		if client.ID == "" || client.SecretHash == "" {
			return fmt.Errorf("auth.clients[%d] requires id and secret_hash", i)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Health.IntervalRaw != "" {
		cfg.Health.Interval, err = time.ParseDuration(cfg.Health.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing health.interval %q: %w", cfg.Health.IntervalRaw, err)
		}
	}

	if cfg.Health.ProbeTimeoutRaw != "" {
		cfg.Health.ProbeTimeout, err = time.ParseDuration(cfg.Health.ProbeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing health.probe_timeout %q: %w", cfg.Health.ProbeTimeoutRaw, err)
		}
	}

	if cfg.Proxy.ForwardTimeoutRaw != "" {
		cfg.Proxy.ForwardTimeout, err = time.ParseDuration(cfg.Proxy.ForwardTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing proxy.forward_timeout %q: %w", cfg.Proxy.ForwardTimeoutRaw, err)
		}
	}

	return nil
}
