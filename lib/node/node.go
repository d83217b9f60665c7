package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/db/engines/sqlite"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/lib/store/dstore"
	"github.com/ValentinKolb/piebus/lib/store/lstore"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("node")

// Node is a running piebus replica: its database, the store on top of it
// and the API facade. The node owns all of them.
type Node struct {
	config Config
	store  store.IStore
	nh     *dragonboat.NodeHost // nil in local mode
	api    *api.API
}

// Start opens the database and starts the store of the configured mode.
// In cluster mode the replica joins (or bootstraps) the raft shard; use
// WaitReady to wait for a leader.
func Start(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}
	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	factory := func() (db.FrameDB, error) {
		return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: dbPath})
	}

	n := &Node{config: cfg}
	switch cfg.Mode {
	case ModeLocal:
		st, err := lstore.NewLocalStore(factory)
		if err != nil {
			return nil, err
		}
		n.store = st
		log.Infof("started local node with database %s", dbPath)

	case ModeCluster:
		nh, err := dragonboat.NewNodeHost(cfg.ToNodeHostConfig())
		if err != nil {
			return nil, fmt.Errorf("create node host: %w", err)
		}
		members := map[uint64]string{}
		if !cfg.Join {
			for id, addr := range cfg.ClusterMembers {
				members[id] = addr
			}
		}
		if err := nh.StartOnDiskReplica(members, cfg.Join, dstore.CreateStateMachineFactory(factory), cfg.ToDragonboatConfig()); err != nil {
			nh.Close()
			return nil, fmt.Errorf("start replica %d: %w", cfg.ReplicaID, err)
		}
		n.nh = nh
		n.store = dstore.NewDistributedStore(nh, cfg.shardID(), cfg.ReplicaID, dstore.Options{
			Timeout:           cfg.Timeout(),
			ForwardWrites:     cfg.ForwardWrites,
			LinearizableReads: cfg.LinearizableReads,
		})
		log.Infof("started replica %d of shard %d at %s", cfg.ReplicaID, cfg.shardID(), cfg.ClusterMembers[cfg.ReplicaID])
	}

	n.api = api.New(n.store, api.Config{HashCost: cfg.HashCost})
	return n, nil
}

// API returns the facade of this node.
func (n *Node) API() *api.API {
	return n.api
}

// Store returns the replication layer of this node.
func (n *Node) Store() store.IStore {
	return n.store
}

// Leader reports the current leader of the shard. In local mode the node
// always leads itself.
func (n *Node) Leader() (leaderID uint64, ok bool) {
	if n.nh == nil {
		return n.config.ReplicaID, true
	}
	leaderID, _, valid, err := n.nh.GetLeaderID(n.config.shardID())
	if err != nil {
		return 0, false
	}
	return leaderID, valid
}

// WaitReady blocks until a leader is known or ctx ends.
func (n *Node) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(n.config.HeartbeatInterval() + 10*time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := n.Leader(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for leader: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Health returns nil if the node has a leader and can read its database.
func (n *Node) Health(ctx context.Context) error {
	if _, ok := n.Leader(); !ok {
		return fmt.Errorf("no leader elected")
	}
	if _, err := n.api.CountFrames(ctx); err != nil {
		return err
	}
	return nil
}

// Close stops the store (and the node host in cluster mode).
func (n *Node) Close() error {
	log.Infof("stopping node")
	return n.store.Close()
}
