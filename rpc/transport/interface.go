package transport

import (
	"context"

	"github.com/ValentinKolb/piebus/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a serialized request and returns the serialized response
type ServerHandleFunc func(ctx context.Context, req []byte) (resp []byte)

// HealthFunc reports the state of the node behind the transport. A nil
// error means the node can serve requests.
type HealthFunc func(ctx context.Context) (status any, err error)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// RegisterHealthCheck registers the function behind the health endpoint
	RegisterHealthCheck(check HealthFunc)
	// Listen starts the transport layer and listens for incoming requests.
	// It blocks until Shutdown is called or the listener fails.
	Listen(config common.ServerConfig) error
	// Shutdown stops accepting requests and waits for running ones
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the current endpoint and returns the response
	Send(ctx context.Context, req []byte) (resp []byte, err error)
	// Rotate makes the next endpoint the current one
	Rotate()
	// Endpoints returns the number of configured endpoints
	Endpoints() int
	// Close closes the transport connection
	Close() error
}
