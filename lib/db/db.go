package db

import (
	"errors"

	"github.com/ValentinKolb/piebus/lib/auth"
	"github.com/ValentinKolb/piebus/lib/frame"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplSQLite Implementation = "sqlite"
)

// DatabaseInfo describes the database behind a replica. Sizes are taken
// from the engine's own bookkeeping and may lag behind recent writes.
type DatabaseInfo struct {
	SizeBytes    int64             `json:"size_bytes" yaml:"size_bytes"`
	DbType       Implementation    `json:"db_type" yaml:"db_type"`
	AppliedIndex uint64            `json:"applied_index" yaml:"applied_index"`
	Frames       int               `json:"frames" yaml:"frames"`
	Users        int               `json:"users" yaml:"users"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Setting is a single row of the settings table.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StoredFrame is a frame together with its row id (the search index docid).
type StoredFrame struct {
	RowID int64       `json:"row_id"`
	Frame frame.Frame `json:"frame"`
}

// Snapshot is the complete replicated state of a database. The search
// index is not part of it, it is rebuilt from the frames on restore.
type Snapshot struct {
	AppliedIndex uint64            `json:"applied_index"`
	Credentials  []auth.Credential `json:"credentials"`
	Settings     []Setting         `json:"settings"`
	Frames       []StoredFrame     `json:"frames"`
}

var (
	// ErrInvalidQuery is returned by SearchFrames for queries the full-text
	// engine rejects.
	ErrInvalidQuery = errors.New("invalid search query")
)

// Factory creates (or opens) the database used by a replica.
type Factory func() (FrameDB, error)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Tx is the write side of a FrameDB. All changes made through a Tx become
// visible together when the surrounding Update returns nil.
type Tx interface {
	// Credential loads the credential of username.
	Credential(username string) (c auth.Credential, found bool, err error)

	// InsertCredential stores a new credential. It returns false without
	// changing anything if the username is taken.
	InsertCredential(c auth.Credential) (inserted bool, err error)

	// PutSetting inserts or overwrites a setting.
	PutSetting(key, value string) (err error)

	// Frame loads a frame and its row id by identity.
	Frame(identity string) (f frame.Frame, rowID int64, found bool, err error)

	// InsertFrame stores a new frame and returns its row id.
	InsertFrame(f frame.Frame) (rowID int64, err error)

	// SetPublish changes the publish flag of an existing frame and records
	// rev as the log position of the change.
	SetPublish(identity string, status bool, rev uint64) (err error)

	// IndexFrame adds or refreshes the search index entry of a frame.
	IndexFrame(rowID int64, f frame.Frame) (err error)

	// RebuildIndex re-derives the search index entry of every frame.
	RebuildIndex() (err error)

	// SetAppliedIndex records the log position of the last applied command.
	SetAppliedIndex(index uint64) (err error)
}

// FrameDB stores credentials, settings, frames and the search index of a
// single replica. Writes happen only inside Update; reads never block on
// a running Update for longer than the engine's own locking requires.
type FrameDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Update runs fn in a single transaction. If fn returns an error all
	// of its changes are discarded.
	Update(fn func(tx Tx) error) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Setting returns the value of a setting.
	Setting(key string) (value string, found bool, err error)

	// Frame returns the frame with the given identity.
	Frame(identity string) (f frame.Frame, found bool, err error)

	// ListFrames returns at most limit frames, newest first.
	ListFrames(limit int, publicOnly bool) (frames []frame.Frame, err error)

	// SearchFrames returns all frames whose index entry matches query,
	// newest first. Errors wrap ErrInvalidQuery if the engine rejected
	// the query syntax.
	SearchFrames(query string, publicOnly bool) (frames []frame.Frame, err error)

	// CountFrames returns the number of stored frames.
	CountFrames() (n int, err error)

	// AppliedIndex returns the last recorded log position (0 if none).
	AppliedIndex() (index uint64, err error)

	// GetInfo returns metadata about the database.
	GetInfo() (info DatabaseInfo, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Snapshot copies the complete replicated state.
	Snapshot() (s *Snapshot, err error)

	// Restore replaces the complete state with s and rebuilds the index.
	Restore(s *Snapshot) (err error)

	// Sync makes all committed writes durable.
	Sync() (err error)

	// Close closes the database.
	Close() (err error)
}
