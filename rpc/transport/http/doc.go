// Package http implements the HTTP transport of the piebus RPC layer.
//
// Server routes:
//
//	POST /rpc      serialized common.Message in, serialized response out
//	GET  /metrics  Prometheus text format (VictoriaMetrics/metrics)
//	GET  /healthz  JSON status of the node, 503 if it cannot serve
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Requests go to
//     the current endpoint. Connection failures (the request never reached
//     a server) move on to the next endpoint, up to RetryCount attempts.
//
//   - httpServerTransport: Implements IRPCServerTransport on a net/http
//     server. At log level debug every request is logged.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. The
//	current endpoint is kept in an atomic counter.
package http
