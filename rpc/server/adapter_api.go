package server

import (
	"context"
	"fmt"
	"maps"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/rpc/common"
)

// handlerFunc answers one message type. resp only needs the payload
// fields, type and error are filled in by the adapter.
type handlerFunc func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) error

// NewAPIServerAdapter creates the adapter that maps messages to facade calls.
// Registration is only accepted while the enable_register preference is on,
// unless alwaysRegister is set.
func NewAPIServerAdapter(alwaysRegister bool) IRPCServerAdapter {
	handlers := maps.Clone(apiHandlers)
	handlers[common.MsgTRegister] = registerHandler(alwaysRegister)
	return &apiServerAdapterImpl{handlers: handlers}
}

// apiServerAdapterImpl dispatches on a table that is never written after
// construction, so concurrent requests read it without locking.
type apiServerAdapterImpl struct {
	handlers map[common.MessageType]handlerFunc
}

func (adapter *apiServerAdapterImpl) Handle(ctx context.Context, req *common.Message, a api.IAPI) *common.Message {
	// Check for nil facade
	if a == nil {
		return common.NewErrorResponse(store.RetCUnavailable, "handler: api is nil")
	}

	handler, ok := adapter.handlers[req.MsgType]
	if !ok {
		return common.NewErrorResponse(
			store.RetCInvalidOperation,
			fmt.Sprintf("RPC APIAdapter - Unsupported message type: %s", req.MsgType),
		)
	}

	resp := &common.Message{}
	err := handler(ctx, req, a, resp)
	resp.MsgType = req.MsgType
	if err != nil {
		resp.Code = api.CodeOf(err)
		resp.Err = err.Error()
	}
	return resp
}

// ErrRegisterDisabled is returned for registrations while the
// enable_register preference is off.
var ErrRegisterDisabled = fmt.Errorf("%w: registration is disabled", api.ErrInvalid)

func registerHandler(alwaysRegister bool) handlerFunc {
	return func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) error {
		if !alwaysRegister {
			open, err := a.EnableRegister(ctx)
			if err != nil {
				return err
			}
			if !open {
				return ErrRegisterDisabled
			}
		}
		var err error
		resp.Ok, err = a.Register(ctx, req.Username, req.Password)
		return err
	}
}

var apiHandlers = map[common.MessageType]handlerFunc{
	common.MsgTLogin: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Ok, err = a.Login(ctx, req.Username, req.Password)
		return err
	},
	common.MsgTLogout: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Ok, err = a.Logout(ctx, req.Username)
		return err
	},
	common.MsgTGetPreference: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Value, err = a.GetPreference(ctx, req.Key, req.Value)
		return err
	},
	common.MsgTSetPreference: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Value, err = a.SetPreference(ctx, req.Key, req.Value)
		return err
	},
	common.MsgTEnableRegister: func(ctx context.Context, _ *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Ok, err = a.EnableRegister(ctx)
		return err
	},
	common.MsgTSetEnableRegister: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Ok, err = a.SetEnableRegister(ctx, req.Status)
		return err
	},
	common.MsgTCreateFrame: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) error {
		if req.Draft == nil {
			return fmt.Errorf("%w: missing draft", api.ErrInvalid)
		}
		f, err := a.CreateFrame(ctx, *req.Draft)
		if err != nil {
			return err
		}
		resp.Frame = &f
		return nil
	},
	common.MsgTListFrames: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Frames, err = a.ListFrames(ctx, req.Limit)
		return err
	},
	common.MsgTListPublicFrames: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Frames, err = a.ListPublicFrames(ctx, req.Limit)
		return err
	},
	common.MsgTSearchFrames: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Frames, err = a.SearchFrames(ctx, req.Text)
		return err
	},
	common.MsgTSearchPublicFrames: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Frames, err = a.SearchPublicFrames(ctx, req.Text)
		return err
	},
	common.MsgTFrame: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) error {
		f, err := a.FrameFromIdentity(ctx, req.Identity)
		if err != nil {
			return err
		}
		resp.Frame = &f
		return nil
	},
	common.MsgTPublish: func(ctx context.Context, req *common.Message, a api.IAPI, resp *common.Message) error {
		f, err := a.Publish(ctx, req.Identity, req.Status)
		if err != nil {
			return err
		}
		resp.Frame = &f
		return nil
	},
	common.MsgTIndexFrames: func(ctx context.Context, _ *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Ok, err = a.IndexFrames(ctx)
		return err
	},
	common.MsgTCountFrames: func(ctx context.Context, _ *common.Message, a api.IAPI, resp *common.Message) (err error) {
		resp.Count, err = a.CountFrames(ctx)
		return err
	},
	common.MsgTDBInfo: func(ctx context.Context, _ *common.Message, a api.IAPI, resp *common.Message) error {
		info, err := a.DBInfo(ctx)
		if err != nil {
			return err
		}
		resp.Info = &info
		return nil
	},
}
