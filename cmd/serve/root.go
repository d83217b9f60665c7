package serve

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/node"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/server"
	"github.com/ValentinKolb/piebus/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a piebus node",
		Long:    `Start a piebus node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is PIEBUS_<flag> (e.g. PIEBUS_DATA_DIR=/var/lib/piebus)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "mode"
	ServeCmd.PersistentFlags().String(key, "local", cmdUtil.WrapString("Mode is either 'local' (a single database, no replication) or 'cluster' (replicated with RAFT)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory holding the database and, in cluster mode, the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) ReplicaID is the unique identifier for this node (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) ClusterMembers is a comma-separated list of raft addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "join"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(Cluster Mode) Join an existing shard instead of bootstrapping it. The node must have been added as a member by the running cluster"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(Cluster Mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two nodes. \nOther raft configuration parameters (ElectionRTT=10, HeartbeatRTT=1) are counted in multiples of this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("(Cluster Mode) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied raft log entries. 0 disables automatic snapshots"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(Cluster Mode) CompactionOverhead defines how many log entries are kept behind a snapshot"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for a single proposal or read"))

	key = "forward-writes"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("(Cluster Mode) Let followers propose writes through the raft leader. If disabled, writes on followers fail with not_leader"))

	key = "linearizable-reads"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(Cluster Mode) Serve reads through a ReadIndex round trip instead of the local replica"))

	key = "hash-cost"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("bcrypt cost for new passwords (0 = default)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "enable-register"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Accept new users even while the enable_register preference is off"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Node = node.Config{
		Mode:               node.Mode(viper.GetString("mode")),
		DataDir:            viper.GetString("data-dir"),
		ShardID:            node.DefaultShardID,
		Join:               viper.GetBool("join"),
		RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
		SnapshotEntries:    viper.GetUint64("snapshot-entries"),
		CompactionOverhead: viper.GetUint64("compaction-overhead"),
		TimeoutSecond:      viper.GetInt64("timeout"),
		ForwardWrites:      viper.GetBool("forward-writes"),
		LinearizableReads:  viper.GetBool("linearizable-reads"),
		HashCost:           viper.GetInt("hash-cost"),
	}
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.AlwaysRegister = viper.GetBool("enable-register")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	if serveCmdConfig.Node.Mode == node.ModeCluster {
		// parse replica id
		id := viper.GetString("replica-id")
		if id == "" {
			return fmt.Errorf("replica-id is required in cluster mode")
		}
		serveCmdConfig.Node.ReplicaID = cmdUtil.ReplicaID(id)

		// parse cluster members
		members, err := cmdUtil.ParseClusterMembers(viper.GetString("cluster-members"))
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return fmt.Errorf("cluster-members is required in cluster mode")
		}
		serveCmdConfig.Node.ClusterMembers = members
	}

	return serveCmdConfig.Node.Validate()
}

// run starts the piebus server and blocks until it is stopped
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)

	return serv.Serve()
}
