// Package server implements the piebus RPC server. It starts a node
// (see lib/node) and answers requests with its API facade.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface for adapters that process a decoded
//     request against an api.IAPI.
//
//   - NewAPIServerAdapter: the adapter for all facade operations. Handlers
//     are kept in a read-only table keyed by message type. Registration is
//     refused while the enable_register preference is off, unless the
//     server runs with AlwaysRegister. Facade errors are returned as
//     store.RetCode plus message.
//
//   - RPCServer: ties transport, serializer and node together. It also
//     registers the health check and counts requests per message type.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Node: node.Config{
//	    Mode:    node.ModeLocal,
//	    DataDir: "/var/lib/piebus",
//	  },
//	  Endpoint: "0.0.0.0:8080",
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  http.NewHttpServerTransport(),
//	  serializer.NewCBORSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Handle is safe for concurrent use once Start returned. Serve and Start
//	must be called only once.
package server
