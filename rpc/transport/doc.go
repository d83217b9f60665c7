// Package transport defines the interfaces for moving serialized RPC
// messages between client and server.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending. A client transport
//     keeps a current endpoint and moves on with Rotate.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and passes them to the registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
//   - HealthFunc: Function type behind the health endpoint.
package transport
