package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/node"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/serializer"
	"github.com/ValentinKolb/piebus/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewCBORSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewAPIServerAdapter(config.AlwaysRegister),
	}
}

// RPCServer serves the facade of one node.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	node       *node.Node
}

// nodeStatus is reported by the health endpoint.
type nodeStatus struct {
	Mode         node.Mode `json:"mode"`
	ReplicaID    uint64    `json:"replica_id,omitempty"`
	LeaderID     uint64    `json:"leader_id,omitempty"`
	AppliedIndex uint64    `json:"applied_index"`
	Frames       int       `json:"frames"`
}

// Start initializes the loggers, starts the node and registers the
// handlers at the transport. It does not block.
func (s *RPCServer) Start() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	n, err := node.Start(s.config.Node)
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	s.node = n

	s.transport.RegisterHandler(s.Handle)
	s.transport.RegisterHealthCheck(s.health)

	Logger.Infof("piebus setup completed successfully")
	return nil
}

// Handle decodes a request, passes it to the facade and encodes the response
func (s *RPCServer) Handle(ctx context.Context, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	// Decode the request
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		// Let the adapter handle the request
		respMsg = s.adapter.Handle(ctx, &msg, s.API())
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`piebus_rpc_requests_total{type=%q}`, msg.MsgType)).Inc()
	if respMsg.Err != "" {
		metrics.GetOrCreateCounter(fmt.Sprintf(`piebus_rpc_errors_total{type=%q,code=%q}`, msg.MsgType, respMsg.Code)).Inc()
		Logger.Debugf("%s failed: %s", msg.MsgType, respMsg.Err)
	}

	// Return result
	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", msg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(store.RetCInternalError, fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// API returns the facade of the running node (nil before Start).
func (s *RPCServer) API() api.IAPI {
	if s.node == nil {
		return nil
	}
	return s.node.API()
}

func (s *RPCServer) health(ctx context.Context) (any, error) {
	if s.node == nil {
		return nil, fmt.Errorf("node not started")
	}
	status := nodeStatus{Mode: s.config.Node.Mode, ReplicaID: s.config.Node.ReplicaID}
	if leader, ok := s.node.Leader(); ok && s.config.Node.Mode == node.ModeCluster {
		status.LeaderID = leader
	}
	if err := s.node.Health(ctx); err != nil {
		return status, err
	}
	info, err := s.node.API().DBInfo(ctx)
	if err != nil {
		return status, err
	}
	status.AppliedIndex = info.AppliedIndex
	status.Frames = info.Frames
	return status, nil
}

// Serve starts the RPC server
// This function will also start the node and the transport layer. It
// returns after SIGINT or SIGTERM once the node is closed.
func (s *RPCServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}

	// Report when the shard has a leader
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.node.WaitReady(ctx); err != nil {
			Logger.Warningf("%v", err)
			return
		}
		leader, _ := s.node.Leader()
		Logger.Infof("node ready, leader is replica %d", leader)
	}()

	// Stop on signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		Logger.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.transport.Shutdown(ctx); err != nil {
			Logger.Errorf("failed to stop transport: %v", err)
		}
	}()
	defer signal.Stop(stop)

	err := s.transport.Listen(s.config)
	if cerr := s.node.Close(); cerr != nil {
		Logger.Errorf("failed to close node: %v", cerr)
	}
	return err
}

// Close stops the transport and the node.
func (s *RPCServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.transport.Shutdown(ctx); err != nil {
		return err
	}
	if s.node == nil {
		return nil
	}
	return s.node.Close()
}
