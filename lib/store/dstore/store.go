package dstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")

	submitDuration = metrics.NewHistogram("piebus_submit_duration_seconds")
	readDuration   = metrics.NewHistogram("piebus_read_duration_seconds")
	notLeaderTotal = metrics.NewCounter("piebus_not_leader_total")
)

// Options tune the behaviour of the distributed store.
type Options struct {
	// Timeout bounds a single proposal or linearizable read.
	Timeout time.Duration
	// ForwardWrites lets followers propose; dragonboat forwards the
	// proposal to the leader. Without it followers answer RetCNotLeader.
	ForwardWrites bool
	// LinearizableReads selects SyncRead (ReadIndex) instead of StaleRead.
	LinearizableReads bool
}

// storeImpl is the concrete implementation of the distributed IStore.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	cs        *client.Session
	opts      Options
	closed    atomic.Bool
}

// NewDistributedStore creates a store on top of a NodeHost that already
// runs the replica (replicaID) of shardID. The store takes ownership of the
// NodeHost: Close stops it.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID, replicaID uint64, opts Options) store.IStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &storeImpl{
		nh:        nh,
		shardID:   shardID,
		replicaID: replicaID,
		cs:        nh.GetNoOPSession(shardID),
		opts:      opts,
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// checkLeader fails with RetCNotLeader unless this replica currently leads
// the shard.
func (s *storeImpl) checkLeader() error {
	leaderID, _, valid, err := s.nh.GetLeaderID(s.shardID)
	if err != nil {
		return toStoreError(err)
	}
	if !valid {
		return store.NewError(store.RetCUnavailable, "no leader elected")
	}
	if leaderID != s.replicaID {
		notLeaderTotal.Inc()
		return store.Errorf(store.RetCNotLeader, "replica %d is not the leader (leader is %d)", s.replicaID, leaderID)
	}
	return nil
}

// toStoreError maps dragonboat and context errors to store errors.
// Anything that leaves the outcome open maps to RetCUnavailable.
func toStoreError(err error) error {
	var se *store.Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, dragonboat.ErrTimeout),
		errors.Is(err, dragonboat.ErrSystemBusy),
		errors.Is(err, dragonboat.ErrShardNotReady),
		errors.Is(err, dragonboat.ErrShardNotFound),
		errors.Is(err, dragonboat.ErrClosed),
		errors.Is(err, dragonboat.ErrAborted),
		errors.Is(err, dragonboat.ErrRejected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

// backoff waits before the next retry or until ctx ends.
func (s *storeImpl) backoff(ctx context.Context) error {
	select {
	case <-time.After(s.opts.Timeout / 10):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

// Submit proposes cmd and waits for it to be applied.
//
// ErrSystemBusy is retried (the proposal was not accepted), a timeout is
// not: the entry may already be in the log and retrying could apply it
// twice.
func (s *storeImpl) Submit(ctx context.Context, cmd store.Command) (store.Result, error) {
	if s.closed.Load() {
		return store.Result{}, store.NewError(store.RetCUnavailable, "store is closed")
	}
	if !s.opts.ForwardWrites {
		if err := s.checkLeader(); err != nil {
			return store.Result{}, err
		}
	}

	data, err := cmd.Serialize()
	if err != nil {
		return store.Result{}, store.NewError(store.RetCInvalidOperation, err.Error())
	}

	start := time.Now()
	defer submitDuration.UpdateDuration(start)

	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		res, err := s.nh.SyncPropose(pctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if err := s.backoff(ctx); err != nil {
				return store.Result{}, toStoreError(err)
			}
			continue
		}
		if err != nil {
			return store.Result{}, toStoreError(err)
		}

		var out store.Result
		if err := out.Deserialize(res.Data); err != nil {
			// results that failed to encode carry a plain message
			return store.Result{}, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		out.Code = store.RetCode(res.Value)
		return out, out.Err()
	}
	return store.Result{}, store.NewError(store.RetCUnavailable, "system busy")
}

// Query reads from the local replica. Reads are stale (served from the
// local state without contacting the leader) unless LinearizableReads is
// set.
func (s *storeImpl) Query(ctx context.Context, q store.Query) (any, error) {
	if s.closed.Load() {
		return nil, store.NewError(store.RetCUnavailable, "store is closed")
	}
	start := time.Now()
	defer readDuration.UpdateDuration(start)

	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if s.opts.LinearizableReads {
			rctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
			res, err = s.nh.SyncRead(rctx, s.shardID, q)
			cancel()
		} else {
			res, err = s.nh.StaleRead(s.shardID, q)
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if err := s.backoff(ctx); err != nil {
				return nil, toStoreError(err)
			}
			continue
		}
		if err != nil {
			return nil, toStoreError(err)
		}
		return res, nil
	}
	return nil, store.NewError(store.RetCUnavailable, "system busy")
}

func (s *storeImpl) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.nh.Close()
	return nil
}

// String describes the store for logs.
func (s *storeImpl) String() string {
	return fmt.Sprintf("dstore(shard=%d, replica=%d, forward=%v, linearizable=%v)", s.shardID, s.replicaID, s.opts.ForwardWrites, s.opts.LinearizableReads)
}
