// Package health keeps the liveness status of registered services
// fresh without overloading backends or blocking callers.
//
// The Monitor runs on a fixed interval. Each tick enumerates enabled
// services and fans probes out concurrently under a fixed limit, each
// probe with its own timeout. A successful JSON-RPC ping marks a
// service healthy; a timeout, connection failure, or protocol error
// marks it unhealthy. Disabled services are skipped entirely, so their
// status is frozen until re-enabled.
//
// Probe failures only ever update state. Snapshot reports last-known
// status plus an in-progress flag per service and never waits for an
// outstanding probe.
package health
