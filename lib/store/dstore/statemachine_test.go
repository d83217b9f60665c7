package dstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/db/engines/sqlite"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/lni/dragonboat/v4"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryFactory() (db.FrameDB, error) {
	return sqlite.NewSQLiteDB(nil)
}

func openStateMachine(t *testing.T) *FrameStateMachine {
	t.Helper()
	fsm := CreateStateMachineFactory(memoryFactory)(1, 1).(*FrameStateMachine)
	idx, err := fsm.Open(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)
	t.Cleanup(func() { fsm.Close() })
	return fsm
}

func entry(t *testing.T, index uint64, cmd store.Command) sm.Entry {
	t.Helper()
	data, err := cmd.Serialize()
	require.NoError(t, err)
	return sm.Entry{Index: index, Cmd: data}
}

func frameCmd(n int, tags string) store.Command {
	return store.Command{
		Type:      store.CommandTCreateFrame,
		Identity:  fmt.Sprintf("%032x", n),
		Kind:      store.KindUnset,
		Name:      fmt.Sprintf("frame-%d", n),
		Tags:      tags,
		Timestamp: time.Date(2024, 1, 1, 0, 0, n, 0, time.UTC).UnixNano(),
	}
}

func decodeResult(t *testing.T, e sm.Entry) store.Result {
	t.Helper()
	var res store.Result
	require.NoError(t, res.Deserialize(e.Result.Data))
	res.Code = store.RetCode(e.Result.Value)
	return res
}

func TestUpdateEncodesResults(t *testing.T) {
	fsm := openStateMachine(t)

	entries := []sm.Entry{
		entry(t, 1, frameCmd(1, "")),
		entry(t, 2, frameCmd(1, "")), // duplicate identity
		{Index: 3, Cmd: []byte{0xff, 0x00}},
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)
	require.Len(t, out, 3)

	first := decodeResult(t, out[0])
	assert.Equal(t, store.RetCSuccess, first.Code)
	require.NotNil(t, first.Frame)
	assert.Equal(t, "frame-1", first.Frame.Name)

	assert.Equal(t, store.RetCInvalidOperation, decodeResult(t, out[1]).Code)
	assert.NotEqual(t, uint64(store.RetCSuccess), out[2].Result.Value)

	// the whole batch advanced the applied index
	idx, err := fsm.machine.DB().AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), idx)
}

func TestLookupRejectsForeignQueries(t *testing.T) {
	fsm := openStateMachine(t)
	_, err := fsm.Lookup("not a query")
	assert.Equal(t, store.RetCInternalError, store.CodeOf(err))

	n, err := fsm.Lookup(store.Query{Type: store.QueryTCountFrames})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := openStateMachine(t)
	var entries []sm.Entry
	for i := 1; i <= 20; i++ {
		entries = append(entries, entry(t, uint64(i), frameCmd(i, "snap")))
	}
	entries = append(entries, entry(t, 21, store.Command{
		Type: store.CommandTSetPreference, Key: "theme", Value: "dark",
	}))
	_, err := source.Update(entries)
	require.NoError(t, err)

	snapCtx, err := source.PrepareSnapshot()
	require.NoError(t, err)

	// entries applied after PrepareSnapshot are not part of the snapshot
	_, err = source.Update([]sm.Entry{entry(t, 22, frameCmd(99, "late"))})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, source.SaveSnapshot(snapCtx, &buf, make(chan struct{})))
	assert.Equal(t, snapshotVersion, buf.Bytes()[0])

	target := openStateMachine(t)
	_, err = target.Update([]sm.Entry{entry(t, 1, frameCmd(500, "stale"))})
	require.NoError(t, err)
	require.NoError(t, target.RecoverFromSnapshot(&buf, make(chan struct{})))

	idx, err := target.machine.DB().AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(21), idx)

	n, err := target.Lookup(store.Query{Type: store.QueryTCountFrames})
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	v, err := target.Lookup(store.Query{Type: store.QueryTGetPreference, Key: "theme"})
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	// the search index is rebuilt from the restored frames
	hits, err := target.Lookup(store.Query{Type: store.QueryTSearchFrames, Text: "snap"})
	require.NoError(t, err)
	assert.Len(t, hits.([]frame.Frame), 20)
	hits, err = target.Lookup(store.Query{Type: store.QueryTSearchFrames, Text: "stale"})
	require.NoError(t, err)
	assert.Empty(t, hits.([]frame.Frame))
}

func TestSnapshotStopped(t *testing.T) {
	fsm := openStateMachine(t)
	snapCtx, err := fsm.PrepareSnapshot()
	require.NoError(t, err)

	done := make(chan struct{})
	close(done)
	var buf bytes.Buffer
	assert.ErrorIs(t, fsm.SaveSnapshot(snapCtx, &buf, done), sm.ErrSnapshotStopped)
	assert.Error(t, fsm.SaveSnapshot("wrong", &buf, make(chan struct{})))
}

func TestRecoverRejectsUnknownVersion(t *testing.T) {
	fsm := openStateMachine(t)
	err := fsm.RecoverFromSnapshot(bytes.NewReader([]byte{snapshotVersion + 1}), make(chan struct{}))
	assert.Error(t, err)
	err = fsm.RecoverFromSnapshot(bytes.NewReader(nil), make(chan struct{}))
	assert.Error(t, err)
}

func TestToStoreError(t *testing.T) {
	tests := []struct {
		err  error
		want store.RetCode
	}{
		{dragonboat.ErrTimeout, store.RetCUnavailable},
		{dragonboat.ErrSystemBusy, store.RetCUnavailable},
		{dragonboat.ErrShardNotReady, store.RetCUnavailable},
		{dragonboat.ErrClosed, store.RetCUnavailable},
		{context.DeadlineExceeded, store.RetCUnavailable},
		{fmt.Errorf("wrapped: %w", dragonboat.ErrRejected), store.RetCUnavailable},
		{store.NewError(store.RetCNotFound, "gone"), store.RetCNotFound},
		{errors.New("disk on fire"), store.RetCInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, store.CodeOf(toStoreError(tt.err)))
		})
	}
}
