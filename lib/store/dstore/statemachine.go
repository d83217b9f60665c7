package dstore

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/piebus/lib/codec"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/lib/store/machine"
	"github.com/klauspost/compress/zstd"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// snapshotVersion is written in front of every snapshot stream.
const snapshotVersion uint8 = 1

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// FrameStateMachine adapts machine.Machine to dragonboat's on-disk state
// machine. The database persists the applied index itself, so after a
// restart only the entries that follow it are replayed.
type FrameStateMachine struct {
	replicaID uint64
	shardID   uint64
	factory   store.DBFactory
	machine   *machine.Machine
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory.
func CreateStateMachineFactory(dbFactory store.DBFactory) sm.CreateOnDiskStateMachineFunc {
	return func(shardID uint64, replicaID uint64) sm.IOnDiskStateMachine {
		return &FrameStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			factory:   dbFactory,
		}
	}
}

// Open opens the database and reports the last applied index.
func (fsm *FrameStateMachine) Open(_ <-chan struct{}) (uint64, error) {
	database, err := fsm.factory()
	if err != nil {
		return 0, fmt.Errorf("replica %d: open database: %w", fsm.replicaID, err)
	}
	idx, err := database.AppliedIndex()
	if err != nil {
		database.Close()
		return 0, err
	}
	fsm.machine = machine.New(database)
	log.Infof("replica %d opened database at applied index %d", fsm.replicaID, idx)
	return idx, nil
}

// Update applies a batch of committed entries. Returning an error stops
// the replica, which is what dragonboat expects for storage faults.
func (fsm *FrameStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	batch := make([]machine.Entry, len(entries))
	for idx, e := range entries {
		batch[idx].Index = e.Index
		batch[idx].Err = batch[idx].Cmd.Deserialize(e.Cmd)
	}

	results, err := fsm.machine.Apply(batch)
	if err != nil {
		return nil, err
	}

	for idx := range entries {
		data, err := results[idx].Serialize()
		if err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInternalError),
				Data:  []byte(fmt.Sprintf("encode result: %v", err)),
			}
			continue
		}
		entries[idx].Result = sm.Result{Value: uint64(results[idx].Code), Data: data}
	}
	return entries, nil
}

// Lookup handles read-only queries.
func (fsm *FrameStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(store.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}
	return fsm.machine.Lookup(q)
}

// Sync checkpoints the database.
func (fsm *FrameStateMachine) Sync() error {
	return fsm.machine.DB().Sync()
}

// PrepareSnapshot copies the replicated state. It runs between Update
// calls, so the copy is consistent with the applied index it carries.
func (fsm *FrameStateMachine) PrepareSnapshot() (interface{}, error) {
	return fsm.machine.DB().Snapshot()
}

// SaveSnapshot streams the prepared state as zstd compressed CBOR.
func (fsm *FrameStateMachine) SaveSnapshot(ctx interface{}, w io.Writer, done <-chan struct{}) error {
	snap, ok := ctx.(*db.Snapshot)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	if stopped(done) {
		return sm.ErrSnapshotStopped
	}

	if _, err := w.Write([]byte{snapshotVersion}); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := codec.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return zw.Close()
}

// RecoverFromSnapshot replaces the database content with the snapshot.
func (fsm *FrameStateMachine) RecoverFromSnapshot(r io.Reader, done <-chan struct{}) error {
	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return fmt.Errorf("read snapshot version: %w", err)
	}
	if version[0] != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version[0])
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	var snap db.Snapshot
	if err := codec.NewDecoder(zr).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if stopped(done) {
		return sm.ErrSnapshotStopped
	}
	if err := fsm.machine.DB().Restore(&snap); err != nil {
		return err
	}
	log.Infof("replica %d recovered snapshot at applied index %d (%d frames)", fsm.replicaID, snap.AppliedIndex, len(snap.Frames))
	return nil
}

// Close performs any necessary cleanup.
func (fsm *FrameStateMachine) Close() error {
	if fsm.machine == nil {
		return nil
	}
	return fsm.machine.DB().Close()
}

func stopped(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
