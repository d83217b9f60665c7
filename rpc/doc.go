// Package rpc exposes the piebus API facade over the network.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration structures and logging.
//
//   - transport: network communication abstractions. The HTTP transport
//     serves POST /rpc together with /metrics and /healthz.
//
//   - serializer: Message serialization (JSON, GOB, CBOR).
//
//   - client: an api.IAPI implementation that talks to remote servers.
//
//   - server: the RPC server that starts a node and dispatches requests to
//     its facade.
package rpc
