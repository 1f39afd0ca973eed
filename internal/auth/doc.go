// Package auth provides authentication and scope-based access control
// for the gateway.
//
// # Identity
//
// Callers present either a pre-issued bearer token or a machine
// credential (client id/secret) exchanged for a short-lived token at
// /oauth2/token. Both paths converge on a Principal: a subject plus a
// set of scope names, reconstructed per request from a verified HS256
// JWT. Downstream components never see raw credentials.
//
// # Policy
//
// The scope policy is a TOML file mapping scope names to grants:
// unrestricted scopes covering every service, admin scopes covering
// registry mutations, and fine-grained scopes naming specific service
// paths and tool lists. The Evaluator holds the policy behind an
// atomic pointer; Reload swaps the whole mapping so evaluations never
// observe a half-updated policy.
//
// # Decisions
//
// Evaluate is deny-by-default: any scope that grants the operation on
// the target allows, and denials carry a machine-readable reason
// without leaking which scopes exist.
package auth
