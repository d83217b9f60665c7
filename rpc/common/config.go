package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/piebus/lib/node"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a piebus server.
type ServerConfig struct {
	// Node is the replica (database, store and raft) configuration
	Node node.Config

	// HTTP api settings
	Endpoint   string
	Serializer string

	// AlwaysRegister accepts registrations even while the enable_register
	// preference is off
	AlwaysRegister bool

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	p := &configPrinter{}

	p.section("RPC Server")
	p.field("Endpoint", c.Endpoint)
	p.field("Serializer", c.Serializer)
	p.field("Timeout", c.Node.Timeout())
	p.field("Always Register", c.AlwaysRegister)

	p.section("Logging")
	p.field("Log Level", c.LogLevel)

	p.section("Storage")
	p.field("Mode", c.Node.Mode)
	p.field("Data Directory", c.Node.DataDir)
	p.field("Database", c.Node.DatabasePath())
	p.field("Bcrypt Cost", c.Node.HashCost)

	if c.Node.Mode != node.ModeCluster {
		return p.String()
	}

	p.section("Node Identity")
	p.field("RAFT Address", c.Node.ClusterMembers[c.Node.ReplicaID])
	p.field("Node ID", c.Node.ReplicaID)
	p.field("Join", c.Node.Join)

	p.section("RAFT Parameters")
	p.field("Round Trip Time", fmt.Sprintf("%d ms", c.Node.RTTMillisecond))
	p.field("Election Timeout", c.Node.ElectionTimeout())
	p.field("Heartbeat Interval", c.Node.HeartbeatInterval())
	p.field("Snapshot Entries", c.Node.SnapshotEntries)
	p.field("Compaction Overhead", c.Node.CompactionOverhead)
	p.field("Forward Writes", c.Node.ForwardWrites)
	p.field("Linearizable Reads", c.Node.LinearizableReads)

	// members sorted by id for stable output
	ids := make([]uint64, 0, len(c.Node.ClusterMembers))
	for id := range c.Node.ClusterMembers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	p.section("Cluster Members")
	for _, id := range ids {
		p.field(strconv.FormatUint(id, 10), c.Node.ClusterMembers[id])
	}
	return p.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the connection settings of an RPC client.
type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	p := &configPrinter{}

	p.section("Client Configuration")
	p.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	p.field("Retry Count", c.RetryCount)
	p.field("Connections Per Endpoint", max(1, c.ConnectionsPerEndpoint))

	p.section("Endpoints")
	for i, endpoint := range c.Endpoints {
		p.field(strconv.Itoa(i), endpoint)
	}
	return p.String()
}

// --------------------------------------------------------------------------
// Printer
// --------------------------------------------------------------------------

// configPrinter renders upper case section titles followed by aligned
// "name: value" lines.
type configPrinter struct {
	strings.Builder
}

func (p *configPrinter) section(title string) {
	fmt.Fprintf(p, "\n%s\n", strings.ToUpper(title))
}

func (p *configPrinter) field(name string, value any) {
	fmt.Fprintf(p, "  %-24s: %v\n", name, value)
}
