// Package config loads the registry-gateway YAML configuration.
//
// Configuration files support ${ENV_VAR} expansion and duration
// strings ("30s", "5m"). The scope policy referenced by
// auth.policy_path is a separate TOML file loaded by the auth package.
package config
