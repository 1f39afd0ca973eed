// Package store provides durable persistence for the service registry.
//
// The registry is the source of truth for every other gateway component:
// the health monitor, the tool index, and the router all observe it. A
// ServiceRecord maps a unique path prefix to a backend target URL plus
// metadata and a cached tool catalog.
//
// # Ownership
//
// The store exclusively owns ServiceRecord lifetime. Other components
// write only the fields they are responsible for, through dedicated
// methods:
//
//   - the health monitor calls UpdateHealth
//   - the tool index calls ReplaceToolCatalog
//
// Mutations on a single path are serialized; reads never block on
// unrelated paths. Everything is persisted in SQLite and survives
// process restart.
package store
