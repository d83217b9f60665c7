// Package client implements the piebus API facade (api.IAPI) on top of the
// RPC transport, so applications can use a remote node like a local one.
//
// Key Components:
//
//   - NewRPCAPI: Factory function that creates a client implementing
//     api.IAPI. Every call is sent as one common.Message.
//
// Error Handling:
//
//	Errors returned by the server carry a store.RetCode which is mapped back
//	to the sentinel errors of the api package, so errors.Is(err,
//	api.ErrNotFound) works the same for local and remote facades. Transport
//	failures are reported as api.ErrUnavailable. A follower that does not
//	accept writes answers with api.ErrNotLeader; the client then tries the
//	next endpoint.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"node1:8080", "node2:8080", "node3:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	a, err := client.NewRPCAPI(config, http.NewHttpClientTransport(), serializer.NewCBORSerializer())
//	if err != nil { ... }
//
//	f, err := a.CreateFrame(ctx, frame.Draft{Name: "hello"})
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
