package testing

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/auth"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
)

// DBFactory is a function that creates a new, empty instance of a FrameDB implementation
type DBFactory func() (db.FrameDB, error)

// RunFrameDBTests runs a comprehensive test suite for a FrameDB implementation.
func RunFrameDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("UpdateCommitAndRollback", func(t *testing.T) {
			testUpdateCommitAndRollback(t, open(t, factory))
		})

		t.Run("Credentials", func(t *testing.T) {
			testCredentials(t, open(t, factory))
		})

		t.Run("Settings", func(t *testing.T) {
			testSettings(t, open(t, factory))
		})

		t.Run("FrameRoundTrip", func(t *testing.T) {
			testFrameRoundTrip(t, open(t, factory))
		})

		t.Run("ListOrdering", func(t *testing.T) {
			testListOrdering(t, open(t, factory))
		})

		t.Run("Publish", func(t *testing.T) {
			testPublish(t, open(t, factory))
		})

		t.Run("Search", func(t *testing.T) {
			testSearch(t, open(t, factory))
		})

		t.Run("SearchWithoutIndex", func(t *testing.T) {
			testSearchWithoutIndex(t, open(t, factory))
		})

		t.Run("AppliedIndex", func(t *testing.T) {
			testAppliedIndex(t, open(t, factory))
		})

		t.Run("SnapshotRestore", func(t *testing.T) {
			testSnapshotRestore(t, factory)
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, open(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t testing.TB, factory DBFactory) db.FrameDB {
	t.Helper()
	database, err := factory()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testFrame returns a frame with a deterministic identity derived from n.
func testFrame(n int, offset time.Duration) frame.Frame {
	return frame.Frame{
		Identity:  fmt.Sprintf("%032x", n),
		Kind:      frame.KindEvent,
		Name:      fmt.Sprintf("frame-%d", n),
		Data:      frame.Mapping{"n": frame.Int(int64(n))},
		Meta:      frame.Mapping{},
		Render:    frame.DefaultRender,
		Timestamp: baseTime.Add(offset),
	}
}

func insert(t testing.TB, database db.FrameDB, frames ...frame.Frame) {
	t.Helper()
	err := database.Update(func(tx db.Tx) error {
		for _, f := range frames {
			rowID, err := tx.InsertFrame(f)
			if err != nil {
				return err
			}
			if err := tx.IndexFrame(rowID, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to insert frames: %v", err)
	}
}

func identities(frames []frame.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Identity
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpdateCommitAndRollback(t *testing.T, database db.FrameDB) {
	boom := errors.New("boom")
	err := database.Update(func(tx db.Tx) error {
		if err := tx.PutSetting("a", "1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected Update to return the callback error, got %v", err)
	}
	if _, found, _ := database.Setting("a"); found {
		t.Errorf("Expected changes of a failed Update to be discarded")
	}

	err = database.Update(func(tx db.Tx) error {
		return tx.PutSetting("a", "2")
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if v, found, _ := database.Setting("a"); !found || v != "2" {
		t.Errorf("Expected committed setting a=2, got %q (found=%v)", v, found)
	}
}

func testCredentials(t *testing.T, database db.FrameDB) {
	c := auth.Credential{Username: "alice", PasswordHash: "hash-1", Note: "first", Timestamp: baseTime}

	var first, second bool
	var loaded auth.Credential
	var found bool
	err := database.Update(func(tx db.Tx) (err error) {
		if first, err = tx.InsertCredential(c); err != nil {
			return err
		}
		dup := c
		dup.PasswordHash = "hash-2"
		if second, err = tx.InsertCredential(dup); err != nil {
			return err
		}
		loaded, found, err = tx.Credential("alice")
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !first || second {
		t.Errorf("Expected first insert to succeed and duplicate to be rejected, got %v/%v", first, second)
	}
	if !found || loaded.PasswordHash != "hash-1" || loaded.Note != "first" || !loaded.Timestamp.Equal(baseTime) {
		t.Errorf("Unexpected credential %+v (found=%v)", loaded, found)
	}

	_ = database.Update(func(tx db.Tx) error {
		if _, found, _ := tx.Credential("bob"); found {
			t.Errorf("Expected unknown user to be absent")
		}
		return nil
	})
}

func testSettings(t *testing.T, database db.FrameDB) {
	if _, found, err := database.Setting("missing"); found || err != nil {
		t.Errorf("Expected missing setting to be absent, got found=%v err=%v", found, err)
	}
	for _, v := range []string{"dark", "light", ""} {
		err := database.Update(func(tx db.Tx) error {
			return tx.PutSetting("theme", v)
		})
		if err != nil {
			t.Fatalf("PutSetting failed: %v", err)
		}
		got, found, err := database.Setting("theme")
		if err != nil || !found || got != v {
			t.Errorf("Expected theme=%q, got %q (found=%v, err=%v)", v, got, found, err)
		}
	}
}

func testFrameRoundTrip(t *testing.T, database db.FrameDB) {
	f := testFrame(1, 1500*time.Nanosecond)
	f.Kind = frame.KindState
	f.Data = frame.Mapping{
		"text": frame.String("hello"),
		"list": frame.Sequence{frame.Int(1), frame.Bool(true), frame.Null{}},
		"sub":  frame.Mapping{"x": frame.String("y")},
	}
	f.Meta = frame.Mapping{"source": frame.String("test")}
	f.Source = "test"
	f.Tags = "#a #b"
	f.Render = "telegram"
	insert(t, database, f)

	got, found, err := database.Frame(f.Identity)
	if err != nil || !found {
		t.Fatalf("Expected frame to be found, got found=%v err=%v", found, err)
	}
	if got.Identity != f.Identity || got.Kind != f.Kind || got.Name != f.Name || got.Source != f.Source ||
		got.Tags != f.Tags || got.Render != f.Render || got.Publish || !got.Timestamp.Equal(f.Timestamp) {
		t.Errorf("Frame did not survive the round trip:\n got  %+v\n want %+v", got, f)
	}
	if got.Data.JSON() != f.Data.JSON() || got.Meta.JSON() != f.Meta.JSON() {
		t.Errorf("Payloads did not survive the round trip: %s %s", got.Data.JSON(), got.Meta.JSON())
	}

	if _, found, err := database.Frame("does-not-exist"); found || err != nil {
		t.Errorf("Expected unknown identity to be absent, got found=%v err=%v", found, err)
	}

	err = database.Update(func(tx db.Tx) error {
		_, rowID, found, err := tx.Frame(f.Identity)
		if err != nil {
			return err
		}
		if !found || rowID <= 0 {
			t.Errorf("Expected frame with positive row id inside transaction, got found=%v row=%d", found, rowID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func testListOrdering(t *testing.T, database db.FrameDB) {
	list, err := database.ListFrames(10, false)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("Expected empty non-nil list, got %v (err=%v)", list, err)
	}

	// frames 2 and 3 share a timestamp, the later insert wins the tie
	insert(t, database,
		testFrame(1, 0),
		testFrame(2, time.Second),
		testFrame(3, time.Second),
		testFrame(4, -time.Second),
	)

	list, err = database.ListFrames(0, false)
	if err != nil {
		t.Fatalf("ListFrames failed: %v", err)
	}
	want := []string{testFrame(3, 0).Identity, testFrame(2, 0).Identity, testFrame(1, 0).Identity, testFrame(4, 0).Identity}
	if got := identities(list); !equalStrings(got, want) {
		t.Errorf("Unexpected order:\n got  %v\n want %v", got, want)
	}

	list, err = database.ListFrames(2, false)
	if err != nil || len(list) != 2 {
		t.Fatalf("Expected 2 frames, got %d (err=%v)", len(list), err)
	}
	if got := identities(list); !equalStrings(got, want[:2]) {
		t.Errorf("Limit must keep the newest frames, got %v", got)
	}

	n, err := database.CountFrames()
	if err != nil || n != 4 {
		t.Errorf("Expected 4 frames, got %d (err=%v)", n, err)
	}
}

func testPublish(t *testing.T, database db.FrameDB) {
	a, b := testFrame(1, 0), testFrame(2, time.Second)
	b.Publish = true
	insert(t, database, a, b)

	public, err := database.ListFrames(10, true)
	if err != nil {
		t.Fatalf("ListFrames failed: %v", err)
	}
	if got := identities(public); !equalStrings(got, []string{b.Identity}) {
		t.Errorf("Expected only the published frame, got %v", got)
	}

	err = database.Update(func(tx db.Tx) error {
		if err := tx.SetPublish(a.Identity, true, 42); err != nil {
			return err
		}
		return tx.SetPublish(b.Identity, false, 43)
	})
	if err != nil {
		t.Fatalf("SetPublish failed: %v", err)
	}

	got, _, _ := database.Frame(a.Identity)
	if !got.Publish || got.PublishRev != 42 {
		t.Errorf("Expected frame a published at rev 42, got %v/%d", got.Publish, got.PublishRev)
	}
	public, _ = database.ListFrames(10, true)
	if ids := identities(public); !equalStrings(ids, []string{a.Identity}) {
		t.Errorf("Expected only frame a to be public, got %v", ids)
	}

	err = database.Update(func(tx db.Tx) error {
		return tx.SetPublish("unknown", true, 44)
	})
	if err == nil {
		t.Errorf("Expected SetPublish on an unknown frame to fail")
	}
}

func testSearch(t *testing.T, database db.FrameDB) {
	a := testFrame(1, 0)
	a.Name = "telegram-message"
	a.Data = frame.Mapping{"text": frame.String("hello world")}
	b := testFrame(2, time.Second)
	b.Data = frame.Mapping{"text": frame.String("hello again")}
	b.Publish = true
	c := testFrame(3, 2*time.Second)
	c.Name = "telegram-message"
	c.Data = frame.Mapping{"text": frame.String(" ")}
	insert(t, database, a, b, c)

	hits, err := database.SearchFrames("hello", false)
	if err != nil {
		t.Fatalf("SearchFrames failed: %v", err)
	}
	if got := identities(hits); !equalStrings(got, []string{b.Identity, a.Identity}) {
		t.Errorf("Expected both hello frames newest first, got %v", got)
	}

	hits, _ = database.SearchFrames("hello", true)
	if got := identities(hits); !equalStrings(got, []string{b.Identity}) {
		t.Errorf("Expected only the published hit, got %v", got)
	}

	hits, err = database.SearchFrames("nothingmatches", false)
	if err != nil || hits == nil || len(hits) != 0 {
		t.Errorf("Expected empty non-nil result, got %v (err=%v)", hits, err)
	}

	// rebuilding does not duplicate entries
	err = database.Update(func(tx db.Tx) error {
		if err := tx.RebuildIndex(); err != nil {
			return err
		}
		return tx.RebuildIndex()
	})
	if err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}
	hits, _ = database.SearchFrames("hello", false)
	if len(hits) != 2 {
		t.Errorf("Expected 2 hits after rebuild, got %d", len(hits))
	}

	// an unbalanced query is either rejected as invalid or matches nothing
	hits, err = database.SearchFrames("\"hello (", false)
	if err != nil && !errors.Is(err, db.ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery, got %v", err)
	}
	if err == nil && len(hits) > 2 {
		t.Errorf("Unexpected hits for malformed query: %v", identities(hits))
	}
}

func testSearchWithoutIndex(t *testing.T, database db.FrameDB) {
	hits, err := database.SearchFrames("anything", false)
	if err != nil {
		t.Fatalf("Expected search on a fresh database to succeed, got %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("Expected empty result, got %v", hits)
	}
}

func testAppliedIndex(t *testing.T, database db.FrameDB) {
	if idx, err := database.AppliedIndex(); err != nil || idx != 0 {
		t.Fatalf("Expected applied index 0 on a fresh database, got %d (err=%v)", idx, err)
	}

	for _, want := range []uint64{1, 7, 1000} {
		err := database.Update(func(tx db.Tx) error {
			return tx.SetAppliedIndex(want)
		})
		if err != nil {
			t.Fatalf("SetAppliedIndex failed: %v", err)
		}
		if idx, _ := database.AppliedIndex(); idx != want {
			t.Errorf("Expected applied index %d, got %d", want, idx)
		}
	}

	_ = database.Update(func(tx db.Tx) error {
		_ = tx.SetAppliedIndex(2000)
		return errors.New("abort")
	})
	if idx, _ := database.AppliedIndex(); idx != 1000 {
		t.Errorf("Expected aborted update to leave applied index at 1000, got %d", idx)
	}
}

func testSnapshotRestore(t *testing.T, factory DBFactory) {
	src := open(t, factory)

	a, b := testFrame(1, 0), testFrame(2, time.Second)
	a.Data = frame.Mapping{"text": frame.String("snapshot me")}
	b.Publish = true
	b.PublishRev = 5
	insert(t, src, a, b)
	err := src.Update(func(tx db.Tx) error {
		if _, err := tx.InsertCredential(auth.Credential{Username: "alice", PasswordHash: "h", Timestamp: baseTime}); err != nil {
			return err
		}
		if err := tx.PutSetting("enable_register", "1"); err != nil {
			return err
		}
		return tx.SetAppliedIndex(9)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	snap, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.AppliedIndex != 9 || len(snap.Frames) != 2 || len(snap.Credentials) != 1 || len(snap.Settings) != 1 {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}

	// restore into a database that already holds unrelated state
	dst := open(t, factory)
	insert(t, dst, testFrame(99, 0))
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if idx, _ := dst.AppliedIndex(); idx != 9 {
		t.Errorf("Expected applied index 9 after restore, got %d", idx)
	}
	if _, found, _ := dst.Frame(testFrame(99, 0).Identity); found {
		t.Errorf("Expected restore to replace existing frames")
	}
	got, found, _ := dst.Frame(b.Identity)
	if !found || !got.Publish || got.PublishRev != 5 {
		t.Errorf("Expected published frame b with rev 5, got %+v", got)
	}
	if v, found, _ := dst.Setting("enable_register"); !found || v != "1" {
		t.Errorf("Expected setting to be restored, got %q", v)
	}
	hits, err := dst.SearchFrames("snapshot", false)
	if err != nil || len(hits) != 1 || hits[0].Identity != a.Identity {
		t.Errorf("Expected search index to be rebuilt on restore, got %v (err=%v)", identities(hits), err)
	}

	again, err := dst.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for i := range snap.Frames {
		if snap.Frames[i].RowID != again.Frames[i].RowID || snap.Frames[i].Frame.Identity != again.Frames[i].Frame.Identity {
			t.Errorf("Row %d differs after restore: %+v vs %+v", i, snap.Frames[i], again.Frames[i])
		}
	}
}

func testInfo(t *testing.T, database db.FrameDB) {
	insert(t, database, testFrame(1, 0))
	info, err := database.GetInfo()
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Frames != 1 || info.SizeBytes <= 0 || info.DbType == "" {
		t.Errorf("Unexpected info %+v", info)
	}
}
