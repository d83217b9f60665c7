package node

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// DefaultShardID is the raft shard holding the frame store. There is
// exactly one.
const DefaultShardID uint64 = 1

// Mode selects how a node stores data.
type Mode string

const (
	// ModeLocal applies commands directly to a single database.
	ModeLocal Mode = "local"
	// ModeCluster replicates commands with raft.
	ModeCluster Mode = "cluster"
)

// Config holds everything needed to start a node.
type Config struct {
	Mode    Mode
	DataDir string

	// Dragonboat parameters
	ShardID            uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	Join               bool
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64

	// store parameters
	TimeoutSecond     int64
	ForwardWrites     bool
	LinearizableReads bool

	// HashCost is the bcrypt cost for new passwords (0 = default).
	HashCost int
}

// Validate checks the config for the selected mode.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory must be set")
	}
	switch c.Mode {
	case ModeLocal:
		return nil
	case ModeCluster:
	default:
		return fmt.Errorf("unknown mode %q (must be %q or %q)", c.Mode, ModeLocal, ModeCluster)
	}
	if c.ReplicaID == 0 {
		return fmt.Errorf("replica id must be set in cluster mode")
	}
	if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
		return fmt.Errorf("replica %d is not listed in the cluster members", c.ReplicaID)
	}
	if c.RTTMillisecond == 0 {
		return fmt.Errorf("rtt must be positive")
	}
	return nil
}

// Timeout returns the per request timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSecond <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSecond) * time.Second
}

// DatabasePath is the SQLite file of this node. Cluster replicas get their
// own directory so several replicas can share a data dir in tests.
func (c *Config) DatabasePath() string {
	if c.Mode == ModeCluster {
		return filepath.Join(c.DataDir, "replica-"+strconv.FormatUint(c.ReplicaID, 10), "piebus.db")
	}
	return filepath.Join(c.DataDir, "piebus.db")
}

// ToDragonboatConfig converts the Config to a dragonboat replica config.
func (c *Config) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.shardID(),
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *Config) ToNodeHostConfig() config.NodeHostConfig {
	dir := filepath.Join(c.DataDir, "raft-"+strconv.FormatUint(c.ReplicaID, 10))
	return config.NodeHostConfig{
		WALDir:         dir,
		NodeHostDir:    dir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// ElectionTimeout is the time without heartbeats after which an election starts.
func (c *Config) ElectionTimeout() time.Duration {
	return time.Duration(c.RTTMillisecond*electionRTTFactor) * time.Millisecond
}

// HeartbeatInterval is the leader heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.RTTMillisecond*heartbeatRTTFactor) * time.Millisecond
}

func (c *Config) shardID() uint64 {
	if c.ShardID == 0 {
		return DefaultShardID
	}
	return c.ShardID
}
