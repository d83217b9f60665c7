// Package lstore implements the single-node store.IStore.
//
// There is no consensus: commands are applied directly to the frame store
// state machine, one at a time, under a mutex. The log position is kept in
// an atomic counter that resumes from the index recorded in the database,
// so a restarted local store continues the same sequence.
//
// Commands are still encoded and decoded with the log encoding before they
// are applied, which keeps the local and the replicated mode behaviourally
// identical.
//
// Usage Example:
//
//	factory := func() (db.FrameDB, error) {
//		return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: "piebus.db"})
//	}
//	st, err := lstore.NewLocalStore(factory)
//
// The local store is meant for development, tests and single machine
// deployments. Use dstore for replicated deployments.
package lstore
