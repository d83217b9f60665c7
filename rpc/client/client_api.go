package client

import (
	"context"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/serializer"
	"github.com/ValentinKolb/piebus/rpc/transport"
)

// NewRPCAPI creates a new RPC client for the facade
// The function takes a config, a transport and a serializer as parameters
// It returns an api.IAPI and an error
func NewRPCAPI(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (api.IAPI, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC client
	return &rpcAPI{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcAPI struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the api package)
// --------------------------------------------------------------------------

func (c *rpcAPI) Register(ctx context.Context, username, password string) (bool, error) {
	req := common.NewRequest(common.MsgTRegister)
	req.Username, req.Password = username, password
	return c.ok(ctx, req)
}

func (c *rpcAPI) Login(ctx context.Context, username, password string) (bool, error) {
	req := common.NewRequest(common.MsgTLogin)
	req.Username, req.Password = username, password
	return c.ok(ctx, req)
}

func (c *rpcAPI) Logout(ctx context.Context, username string) (bool, error) {
	req := common.NewRequest(common.MsgTLogout)
	req.Username = username
	return c.ok(ctx, req)
}

func (c *rpcAPI) GetPreference(ctx context.Context, key, def string) (string, error) {
	req := common.NewRequest(common.MsgTGetPreference)
	req.Key, req.Value = key, def
	resp, err := c.invokeRPCRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (c *rpcAPI) SetPreference(ctx context.Context, key, value string) (string, error) {
	req := common.NewRequest(common.MsgTSetPreference)
	req.Key, req.Value = key, value
	resp, err := c.invokeRPCRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (c *rpcAPI) EnableRegister(ctx context.Context) (bool, error) {
	return c.ok(ctx, common.NewRequest(common.MsgTEnableRegister))
}

func (c *rpcAPI) SetEnableRegister(ctx context.Context, enabled bool) (bool, error) {
	req := common.NewRequest(common.MsgTSetEnableRegister)
	req.Status = enabled
	return c.ok(ctx, req)
}

func (c *rpcAPI) CreateFrame(ctx context.Context, draft frame.Draft) (frame.Frame, error) {
	req := common.NewRequest(common.MsgTCreateFrame)
	req.Draft = &draft
	return c.frame(ctx, req)
}

func (c *rpcAPI) ListFrames(ctx context.Context, limit int) ([]frame.Frame, error) {
	req := common.NewRequest(common.MsgTListFrames)
	req.Limit = limit
	return c.frames(ctx, req)
}

func (c *rpcAPI) ListPublicFrames(ctx context.Context, limit int) ([]frame.Frame, error) {
	req := common.NewRequest(common.MsgTListPublicFrames)
	req.Limit = limit
	return c.frames(ctx, req)
}

func (c *rpcAPI) SearchFrames(ctx context.Context, query string) ([]frame.Frame, error) {
	req := common.NewRequest(common.MsgTSearchFrames)
	req.Text = query
	return c.frames(ctx, req)
}

func (c *rpcAPI) SearchPublicFrames(ctx context.Context, query string) ([]frame.Frame, error) {
	req := common.NewRequest(common.MsgTSearchPublicFrames)
	req.Text = query
	return c.frames(ctx, req)
}

func (c *rpcAPI) FrameFromIdentity(ctx context.Context, identity string) (frame.Frame, error) {
	req := common.NewRequest(common.MsgTFrame)
	req.Identity = identity
	return c.frame(ctx, req)
}

func (c *rpcAPI) Publish(ctx context.Context, identity string, status bool) (frame.Frame, error) {
	req := common.NewRequest(common.MsgTPublish)
	req.Identity, req.Status = identity, status
	return c.frame(ctx, req)
}

func (c *rpcAPI) IndexFrames(ctx context.Context) (bool, error) {
	return c.ok(ctx, common.NewRequest(common.MsgTIndexFrames))
}

func (c *rpcAPI) CountFrames(ctx context.Context) (int, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewRequest(common.MsgTCountFrames))
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *rpcAPI) DBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewRequest(common.MsgTDBInfo))
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	if resp.Info == nil {
		return db.DatabaseInfo{}, nil
	}
	return *resp.Info, nil
}

// --------------------------------------------------------------------------
// Response helpers
// --------------------------------------------------------------------------

func (c *rpcAPI) ok(ctx context.Context, req *common.Message) (bool, error) {
	resp, err := c.invokeRPCRequest(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *rpcAPI) frame(ctx context.Context, req *common.Message) (frame.Frame, error) {
	resp, err := c.invokeRPCRequest(ctx, req)
	if err != nil {
		return frame.Frame{}, err
	}
	if resp.Frame == nil {
		return frame.Frame{}, nil
	}
	return *resp.Frame, nil
}

func (c *rpcAPI) frames(ctx context.Context, req *common.Message) ([]frame.Frame, error) {
	resp, err := c.invokeRPCRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Frames == nil {
		return []frame.Frame{}, nil
	}
	return resp.Frames, nil
}
