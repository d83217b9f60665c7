package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *sqliteImpl {
	t.Helper()
	database, err := NewSQLiteDB(nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database.(*sqliteImpl)
}

func TestUndecodablePayloadDegradesToEmpty(t *testing.T) {
	d := createTestDB(t)

	_, err := d.db.Exec("INSERT INTO frames (identity, kind, name, data, meta, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		"broken", 1, "legacy", "{not json", "[1,2]", time.Now().UnixNano())
	require.NoError(t, err)

	f, found, err := d.Frame("broken")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, frame.Mapping{}, f.Data)
	assert.Equal(t, frame.Mapping{}, f.Meta)
	assert.Equal(t, frame.DefaultRender, f.Render)
}

func TestReopenKeepsStateAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piebus.db")

	first, err := NewSQLiteDB(&DBOptions{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Update(func(tx db.Tx) error {
		if err := tx.PutSetting("k", "v"); err != nil {
			return err
		}
		return tx.SetAppliedIndex(12)
	}))
	require.NoError(t, first.Sync())
	require.NoError(t, first.Close())

	second, err := NewSQLiteDB(&DBOptions{Path: path})
	require.NoError(t, err)
	defer second.Close()

	idx, err := second.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), idx)

	v, found, err := second.Setting("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)

	var version int
	require.NoError(t, second.(*sqliteImpl).db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestReadsDoNotWaitForUpdate(t *testing.T) {
	database, err := NewSQLiteDB(&DBOptions{Path: filepath.Join(t.TempDir(), "busy.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	d := database.(*sqliteImpl)
	require.NotSame(t, d.db, d.reader)

	require.NoError(t, d.Update(func(tx db.Tx) error { return tx.PutSetting("k", "before") }))

	inTx, release := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- d.Update(func(tx db.Tx) error {
			if err := tx.PutSetting("k", "after"); err != nil {
				return err
			}
			close(inTx)
			<-release
			return nil
		})
	}()
	<-inTx

	type result struct {
		value string
		err   error
	}
	read := make(chan result, 1)
	go func() {
		v, _, err := d.Setting("k")
		read <- result{v, err}
	}()
	select {
	case r := <-read:
		require.NoError(t, r.err)
		assert.Equal(t, "before", r.value)
	case <-time.After(2 * time.Second):
		t.Fatal("read waited for the running update")
	}

	close(release)
	require.NoError(t, <-done)
	v, _, err := d.Setting("k")
	require.NoError(t, err)
	assert.Equal(t, "after", v)
}

func TestNewerSchemaIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")

	d, err := NewSQLiteDB(&DBOptions{Path: path})
	require.NoError(t, err)
	_, err = d.(*sqliteImpl).db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = NewSQLiteDB(&DBOptions{Path: path})
	assert.Error(t, err)
}
