// Package db defines the storage interface of a replica.
//
// A FrameDB holds four tables worth of state: credentials, settings, frames
// and the bookkeeping row with the last applied log position. The full-text
// index lives in the same database but is derived data (see package search).
//
// Writes go through Update, which hands a Tx to a callback and commits all
// of its changes atomically, together with the applied log position. This is
// what lets a replica recover after a crash: the recorded position and the
// data it describes are always consistent, so the replication layer can
// replay exactly the entries that follow it.
//
// Readers get plain slices (never nil) ordered newest first, with ties on
// the timestamp broken by descending row id.
//
// Engines live in sub packages (engines/sqlite). The conformance suite in
// db/testing is run against every engine.
package db
