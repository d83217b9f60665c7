/*
Package sqlite is the SQLite implementation of db.FrameDB.

Each replica owns one database file (or a private in-memory database for
tests and the local mode). The connection pool is limited to a single
connection, the journal runs in WAL mode and Sync forces a full WAL
checkpoint. The schema is embedded (schema.sql) and versioned through
PRAGMA user_version; opening a database written by a newer release fails.

Payload columns (data, meta) hold the canonical JSON form of the mapping.
Rows whose payload no longer decodes are returned with an empty mapping and
a warning is logged, so a single damaged row never breaks a listing.

The search index table is created by package search on first use; queries
against a database without it return no hits.
*/
package sqlite
