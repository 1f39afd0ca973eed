// Package gateway routes inbound RPC calls to registered backends.
//
// The Router serves /proxy/<service-path>: it resolves the target
// service, authorizes the caller against the scope policy, forwards
// the JSON-RPC body verbatim with a bounded timeout, and relays the
// backend's response unchanged. Backends sit behind the Forwarder
// capability interface so the router stays agnostic to their
// specifics. The package also defines the gateway error taxonomy and
// its JSON-RPC wire codes.
package gateway
