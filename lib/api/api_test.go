package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/db/engines/sqlite"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func createTestAPI(t *testing.T, config Config) *API {
	t.Helper()
	st, err := lstore.NewLocalStore(func() (db.FrameDB, error) { return sqlite.NewSQLiteDB(nil) })
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	if config.HashCost == 0 {
		config.HashCost = bcrypt.MinCost
	}
	return New(st, config)
}

func TestNewIdentity(t *testing.T) {
	id := NewIdentity()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), id)
	assert.NotEqual(t, id, NewIdentity())
}

func TestUserLifecycle(t *testing.T) {
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	ok, err := a.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Register(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, ok, "usernames are unique")

	ok, err = a.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Login(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, ok, "the rejected registration must not have changed the password")

	ok, err = a.Login(ctx, "nobody", "s3cret")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Logout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPreferences(t *testing.T) {
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	v, err := a.GetPreference(ctx, "lang", "en")
	require.NoError(t, err)
	assert.Equal(t, "en", v)

	v, err = a.SetPreference(ctx, "lang", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", v)

	v, err = a.GetPreference(ctx, "lang", "en")
	require.NoError(t, err)
	assert.Equal(t, "de", v)

	enabled, err := a.EnableRegister(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "registration is closed by default")

	enabled, err = a.SetEnableRegister(ctx, true)
	require.NoError(t, err)
	assert.True(t, enabled)

	raw, err := a.GetPreference(ctx, store.EnableRegisterKey, "")
	require.NoError(t, err)
	assert.Equal(t, "1", raw)

	enabled, err = a.EnableRegister(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestCreateFrameResolvesIdentityAndClock(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 8, time.FixedZone("CET", 3600))
	a := createTestAPI(t, Config{
		Now:         func() time.Time { return now },
		NewIdentity: func() string { return "0123456789abcdef0123456789abcdef" },
	})
	ctx := context.Background()

	f, err := a.CreateFrame(ctx, frame.Draft{
		Name: "telegram-message",
		Data: frame.Mapping{"text": frame.String("hi")},
		Meta: frame.Mapping{"source": frame.String("telegram")},
	})
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", f.Identity)
	assert.Equal(t, frame.KindEvent, f.Kind)
	assert.Equal(t, frame.DefaultRender, f.Render)
	assert.Equal(t, "telegram", f.Source)
	assert.True(t, f.Timestamp.Equal(now))
	assert.Equal(t, time.UTC, f.Timestamp.Location())

	loaded, err := a.FrameFromIdentity(ctx, f.Identity)
	require.NoError(t, err)
	assert.Equal(t, f.Data.JSON(), loaded.Data.JSON())

	// the generator returns the same identity again
	_, err = a.CreateFrame(ctx, frame.Draft{Name: "again"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateFrameKeepsNumberLiterals(t *testing.T) {
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	const doc = `{"big":123456789012345678901234567890,"f":1.50}`
	var data frame.Mapping
	require.NoError(t, json.Unmarshal([]byte(doc), &data))

	created, err := a.CreateFrame(ctx, frame.Draft{Name: "numbers", Data: data})
	require.NoError(t, err)
	got, err := a.FrameFromIdentity(ctx, created.Identity)
	require.NoError(t, err)
	out, err := json.Marshal(got.Data)
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(out))
	assert.Contains(t, string(out), "1.50")
}

func TestErrors(t *testing.T) {
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	_, err := a.FrameFromIdentity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, store.RetCNotFound, CodeOf(err))

	_, err = a.Publish(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, kind := range []frame.Kind{9, -1, -128} {
		_, err = a.CreateFrame(ctx, frame.Draft{Kind: frame.KindPtr(kind)})
		assert.ErrorIs(t, err, ErrInvalid, "kind %d", kind)
	}
	count, err := a.CountFrames(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = FromCode(store.RetCNotLeader, "replica 2")
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Equal(t, store.RetCNotLeader, CodeOf(err))
	assert.NoError(t, FromCode(store.RetCSuccess, ""))
	assert.Equal(t, store.RetCInternalError, CodeOf(errors.New("boom")))
}

func TestPublishScenario(t *testing.T) {
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	first, err := a.CreateFrame(ctx, frame.Draft{Name: "note", Data: frame.Mapping{"text": frame.String("alpha")}})
	require.NoError(t, err)
	second, err := a.CreateFrame(ctx, frame.Draft{Name: "note", Data: frame.Mapping{"text": frame.String("beta")}, Tags: "alpha"})
	require.NoError(t, err)

	public, err := a.ListPublicFrames(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, public)

	published, err := a.Publish(ctx, first.Identity, true)
	require.NoError(t, err)
	assert.True(t, published.Publish)

	public, err = a.ListPublicFrames(ctx, 0)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, first.Identity, public[0].Identity)

	hits, err := a.SearchFrames(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, second.Identity, hits[0].Identity, "newest first")

	hits, err = a.SearchPublicFrames(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	all, err := a.ListFrames(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.Identity, all[0].Identity)

	ok, err := a.IndexFrames(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	hits, err = a.SearchFrames(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	n, err := a.CountFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := a.DBInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Frames)
	assert.Equal(t, uint64(4), info.AppliedIndex)
}

func TestManyFramesHaveDistinctIdentities(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	a := createTestAPI(t, Config{})
	ctx := context.Background()

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		f, err := a.CreateFrame(ctx, frame.Draft{Name: fmt.Sprintf("f-%d", i)})
		require.NoError(t, err)
		seen[f.Identity] = struct{}{}
	}
	assert.Len(t, seen, n)

	count, err := a.CountFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}
