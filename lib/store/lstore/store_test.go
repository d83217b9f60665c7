package lstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/db/engines/sqlite"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileFactory(path string) store.DBFactory {
	return func() (db.FrameDB, error) {
		return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: path})
	}
}

func createCmd(id string) store.Command {
	return store.Command{
		Type:      store.CommandTCreateFrame,
		Identity:  id,
		Kind:      store.KindUnset,
		Name:      "test",
		Timestamp: time.Now().UTC().UnixNano(),
	}
}

func TestSubmitAndQuery(t *testing.T) {
	st, err := NewLocalStore(func() (db.FrameDB, error) { return sqlite.NewSQLiteDB(nil) })
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	res, err := st.Submit(ctx, createCmd("a"))
	require.NoError(t, err)
	assert.True(t, res.Ok)

	_, err = st.Submit(ctx, createCmd("a"))
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))

	got, err := st.Query(ctx, store.Query{Type: store.QueryTFrame, Identity: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", got.(frame.Frame).Identity)

	_, err = st.Submit(ctx, store.Command{Type: store.CommandTPublish, Identity: "nope", Status: true, Kind: store.KindUnset})
	assert.Equal(t, store.RetCNotFound, store.CodeOf(err))
}

func TestIndexResumesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	st, err := NewLocalStore(fileFactory(path))
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := st.Submit(ctx, createCmd(id))
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	st, err = NewLocalStore(fileFactory(path))
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, uint64(3), st.(*storeImpl).index.Load())

	res, err := st.Submit(ctx, store.Command{Type: store.CommandTPublish, Identity: "a", Status: true, Kind: store.KindUnset})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Frame.PublishRev)
}

func TestConcurrentSubmits(t *testing.T) {
	st, err := NewLocalStore(func() (db.FrameDB, error) { return sqlite.NewSQLiteDB(nil) })
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := st.Submit(ctx, createCmd(frameID(w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := st.Query(ctx, store.Query{Type: store.QueryTCountFrames})
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func frameID(w, i int) string {
	return fmt.Sprintf("%02d-%04d", w, i)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	st, err := NewLocalStore(func() (db.FrameDB, error) { return sqlite.NewSQLiteDB(nil) })
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err = st.Submit(context.Background(), createCmd("x"))
	assert.Equal(t, store.RetCUnavailable, store.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = st.Query(ctx, store.Query{Type: store.QueryTCountFrames})
	assert.Equal(t, store.RetCUnavailable, store.CodeOf(err))
}
