// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.FrameDB interface.
//
// The package contains:
//   - testing: a conformance suite for the FrameDB contract (atomic updates,
//     ordering, publish visibility, search, applied index, snapshots)
//   - benchmark: throughput of inserts, listings, searches and snapshots
//
// Example usage:
//
//	factory := func() (db.FrameDB, error) {
//		return NewMyDatabase()
//	}
//
//	dbtesting.RunFrameDBTests(t, "MyDatabase", factory)
//	dbtesting.RunFrameDBBenchmarks(b, "MyDatabase", factory)
package testing
