// Package dstore replicates the frame store with the Dragonboat RAFT
// library. It provides the store.IStore implementation used in cluster
// mode.
//
// Architecture:
//
//   - Store Client (store.go): implements store.IStore on top of a
//     NodeHost. Commands are CBOR encoded and proposed with SyncPropose,
//     queries go through StaleRead or SyncRead.
//
//   - State Machine (statemachine.go): a Dragonboat IOnDiskStateMachine
//     that owns the replica's SQLite database and hands committed entries
//     to machine.Machine. The database records the applied index in the
//     same transaction as the entries, so a restarted replica only replays
//     the log suffix after it.
//
// Write Operations:
//
//	1. The API facade resolves identities, timestamps and hashes and
//	   builds a store.Command
//	2. Unless ForwardWrites is set, a follower answers RetCNotLeader
//	3. The command is proposed and committed by a majority
//	4. Every replica applies it in log order (Update in statemachine.go)
//	5. The leader returns the encoded store.Result to the caller
//
//	ErrSystemBusy is retried with a short backoff. Timeouts are reported
//	as RetCUnavailable and are not retried since the entry may still
//	commit.
//
// Read Operations:
//
//	Reads are served by the local replica. By default they are stale
//	(StaleRead); with LinearizableReads the replica first confirms its
//	state with the leader (SyncRead / ReadIndex).
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot copies credentials, settings and frames between two
//	Update calls. SaveSnapshot writes a version byte followed by the zstd
//	compressed CBOR encoding of that copy. RecoverFromSnapshot replaces
//	the database content and rebuilds the search index.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() (db.FrameDB, error) {
//	    return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: path})
//	}
//	err = nh.StartOnDiskReplica(members, false,
//	    dstore.CreateStateMachineFactory(dbFactory), shardConfig)
//	if err != nil { ... }
//
//	st := dstore.NewDistributedStore(nh, shardID, replicaID, dstore.Options{})
//
// The node package does all of this based on a node.Config.
package dstore
