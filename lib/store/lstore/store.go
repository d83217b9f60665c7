package lstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/lib/store/machine"
)

type storeImpl struct {
	mu      sync.Mutex // serializes Submit, the single writer
	machine *machine.Machine
	index   atomic.Uint64
	closed  atomic.Bool
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// The log position continues from the index recorded in the database.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := database.AppliedIndex()
	if err != nil {
		database.Close()
		return nil, err
	}

	s := &storeImpl{machine: machine.New(database)}
	s.index.Store(applied)
	return s, nil
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Submit(ctx context.Context, cmd store.Command) (store.Result, error) {
	if err := ctx.Err(); err != nil {
		return store.Result{}, store.NewError(store.RetCUnavailable, err.Error())
	}
	if s.closed.Load() {
		return store.Result{}, store.NewError(store.RetCUnavailable, "store is closed")
	}

	// round trip through the log encoding, like a replicated entry
	data, err := cmd.Serialize()
	if err != nil {
		return store.Result{}, store.NewError(store.RetCInvalidOperation, err.Error())
	}
	var entry machine.Entry
	entry.Err = entry.Cmd.Deserialize(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Index = s.incAndGetIndex()
	results, err := s.machine.Apply([]machine.Entry{entry})
	if err != nil {
		// nothing was written, give the index back
		s.index.Add(^uint64(0))
		return store.Result{}, store.NewError(store.RetCInternalError, err.Error())
	}
	res := results[0]
	return res, res.Err()
}

func (s *storeImpl) Query(ctx context.Context, q store.Query) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.RetCUnavailable, err.Error())
	}
	if s.closed.Load() {
		return nil, store.NewError(store.RetCUnavailable, "store is closed")
	}
	return s.machine.Lookup(q)
}

func (s *storeImpl) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.DB().Close()
}
