// Package store defines the replication layer of piebus: the commands that
// change the frame store, the queries that read it and the IStore
// interface both store implementations share.
//
// Key Components:
//
//   - IStore Interface: Submit applies a Command and returns its Result,
//     Query reads the state. Errors are *Error values carrying a RetCode so
//     callers can tell rejected commands (RetCInvalidOperation,
//     RetCNotFound) from replication problems (RetCUnavailable,
//     RetCNotLeader).
//
//   - Command / Result: fully resolved state changes. Identities,
//     timestamps and password hashes are decided before a command is
//     submitted so that every replica applying it reaches the same state.
//     Both are CBOR encoded for the raft log.
//
//   - DBFactory: opens the db.FrameDB a store applies commands to.
//
// Implementations:
//
//   - Local Store (lstore): applies commands directly to one database.
//     Used in local mode and in tests.
//
//   - Distributed Store (dstore): replicates commands with Dragonboat.
//
// Both apply commands through machine.Machine, so a command has the same
// effect in both modes.
package store
