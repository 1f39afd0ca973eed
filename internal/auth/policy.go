// ABOUTME: Scope policy loading from TOML with environment variable expansion
// ABOUTME: Policy maps scope names to the services and tools they grant

package auth

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Operation classifies what a caller is trying to do.
type Operation string

// Operation classes
const (
	// OperationRead covers list and discovery calls.
	OperationRead Operation = "read"

	// OperationExecute covers tool invocation on a backend.
	OperationExecute Operation = "execute"

	// OperationAdmin covers registry mutations and health-check-all.
	OperationAdmin Operation = "admin"
)

// ServerGrant names one service a scope grants access to. An empty
// Tools list means all tools of that service.
type ServerGrant struct {
	Path  string   `toml:"path"`
	Tools []string `toml:"tools"`
}

// ScopeGrant describes what a single scope permits.
type ScopeGrant struct {
	// Unrestricted grants the listed operations on every service.
	Unrestricted bool `toml:"unrestricted"`

	// Admin grants registry-mutation operations. Admin scopes also
	// imply read access so operators can inspect what they manage.
	Admin bool `toml:"admin"`

	// Operations this scope applies to ("read", "execute").
	Operations []string `toml:"operations"`

	// Servers the scope explicitly names. Ignored when Unrestricted.
	Servers []ServerGrant `toml:"servers"`
}

// permits reports whether the grant covers the operation class at all.
func (g *ScopeGrant) permits(op Operation) bool {
	if g.Admin && (op == OperationAdmin || op == OperationRead) {
		return true
	}
	for _, o := range g.Operations {
		if Operation(o) == op {
			return true
		}
	}
	return false
}

// grantFor returns the ServerGrant matching the service path, if any.
func (g *ScopeGrant) grantFor(servicePath string) (*ServerGrant, bool) {
	for i := range g.Servers {
		if g.Servers[i].Path == servicePath {
			return &g.Servers[i], true
		}
	}
	return nil, false
}

// Policy is the full scope-to-resource mapping. It is immutable once
// loaded; reloads swap the whole value atomically.
type Policy struct {
	Scopes map[string]ScopeGrant `toml:"scopes"`
}

var policyEnvVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadPolicy reads a TOML policy file from the given path. Environment
// variables in the format ${VAR_NAME} are expanded before parsing.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	expanded := policyEnvVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		name := policyEnvVarRegex.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var policy Policy
	if _, err := toml.Decode(expanded, &policy); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if policy.Scopes == nil {
		policy.Scopes = map[string]ScopeGrant{}
	}
	return &policy, nil
}
