// Package node wires a complete piebus replica: SQLite database, store
// (local or raft replicated) and API facade. The serve command and the
// tests start nodes through Start.
package node
