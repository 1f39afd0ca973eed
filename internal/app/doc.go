// Package app wires the registry-gateway components into a running
// server: HTTP listener, health monitor lifecycle, credential exchange,
// and graceful shutdown.
package app
