package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/serializer"
	"github.com/ValentinKolb/piebus/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC calls
// It takes a request message and returns the response message and an error if any occurs.
// This method also checks if the response is an error response and if the type of the response is the expected type.
//
// A RetCNotLeader answer is retried on the next endpoint: the command was
// rejected before it entered the log, so sending it again is safe.
func (c *rpcClientAdapter) invokeRPCRequest(ctx context.Context, req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalid, err)
	}

	var lastErr error
	for attempt := 0; attempt < max(c.transport.Endpoints(), 1); attempt++ {
		resp, err := c.send(ctx, req, reqBytes)
		if errors.Is(err, api.ErrNotLeader) {
			Logger.Debugf("%s: %v, trying next endpoint", req.MsgType, err)
			lastErr = err
			c.transport.Rotate()
			continue
		}
		return resp, err
	}
	return nil, lastErr
}

func (c *rpcClientAdapter) send(ctx context.Context, req *common.Message, reqBytes []byte) (*common.Message, error) {
	// Send the request
	respBytes, err := c.transport.Send(ctx, reqBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrUnavailable, err)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := c.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("%w: RPC APIAdapter - cannot decode response: %v", api.ErrInternal, err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		code := resp.Code
		if code == store.RetCSuccess {
			code = store.RetCInternalError
		}
		return nil, api.FromCode(code, resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("%w: RPC APIAdapter - Unexpected message type: %s, expected %s", api.ErrInternal, resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
