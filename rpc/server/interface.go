package server

import (
	"context"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/rpc/common"
)

// IRPCServerAdapter turns a decoded request into a call on the facade.
type IRPCServerAdapter interface {
	// Handle runs req against a and never returns nil. Failures are
	// reported through Code and Err of the response.
	Handle(ctx context.Context, req *common.Message, a api.IAPI) (resp *common.Message)
}
