package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/node"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/serializer"
	"github.com/ValentinKolb/piebus/rpc/server"
	"github.com/ValentinKolb/piebus/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// loopTransport hands requests directly to in-process handlers, one per
// endpoint.
type loopTransport struct {
	endpoints []func(ctx context.Context, req []byte) []byte
	current   atomic.Uint32
	sent      []int
	fail      error
}

func (l *loopTransport) Connect(common.ClientConfig) error { return nil }
func (l *loopTransport) Close() error                      { return nil }
func (l *loopTransport) Endpoints() int                    { return len(l.endpoints) }
func (l *loopTransport) Rotate()                           { l.current.Add(1) }

func (l *loopTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	idx := int(l.current.Load()) % len(l.endpoints)
	l.sent = append(l.sent, idx)
	return l.endpoints[idx](ctx, req), nil
}

func startServer(t *testing.T, s serializer.IRPCSerializer) *server.RPCServer {
	t.Helper()
	srv := server.NewRPCServer(common.ServerConfig{
		Node:           node.Config{Mode: node.ModeLocal, DataDir: t.TempDir(), HashCost: bcrypt.MinCost},
		AlwaysRegister: true,
		LogLevel:       "warn",
	}, http.NewHttpServerTransport(), s)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

// follower answers every request with RetCNotLeader.
func follower(s serializer.IRPCSerializer) func(context.Context, []byte) []byte {
	return func(_ context.Context, req []byte) []byte {
		var msg common.Message
		_ = s.Deserialize(req, &msg)
		resp := common.NewResponse(msg.MsgType, store.RetCNotLeader, errors.New("replica 2 is not the leader"))
		data, _ := s.Serialize(*resp)
		return data
	}
}

func newClient(t *testing.T, tr *loopTransport, s serializer.IRPCSerializer) api.IAPI {
	t.Helper()
	a, err := NewRPCAPI(common.ClientConfig{}, tr, s)
	require.NoError(t, err)
	return a
}

func TestClientAgainstServer(t *testing.T) {
	s := serializer.NewCBORSerializer()
	srv := startServer(t, s)
	a := newClient(t, &loopTransport{endpoints: []func(context.Context, []byte) []byte{srv.Handle}}, s)
	ctx := context.Background()

	ok, err := a.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Register(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = a.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Logout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	enabled, err := a.SetEnableRegister(ctx, true)
	require.NoError(t, err)
	assert.True(t, enabled)
	enabled, err = a.EnableRegister(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	stored, err := a.SetPreference(ctx, "lang", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", stored)
	v, err := a.GetPreference(ctx, "lang", "en")
	require.NoError(t, err)
	assert.Equal(t, "de", v)

	f, err := a.CreateFrame(ctx, frame.Draft{
		Kind: frame.KindPtr(frame.KindCommand),
		Name: "deploy",
		Data: frame.Mapping{"text": frame.String("roll out piebus")},
		Meta: frame.Mapping{"source": frame.String("ci")},
	})
	require.NoError(t, err)
	assert.Equal(t, frame.KindCommand, f.Kind)
	assert.Equal(t, "ci", f.Source)

	got, err := a.FrameFromIdentity(ctx, f.Identity)
	require.NoError(t, err)
	assert.Equal(t, f.Identity, got.Identity)
	assert.Equal(t, "roll out piebus", got.Data.Text("text"))

	hits, err := a.SearchFrames(ctx, "piebus")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = a.SearchPublicFrames(ctx, "piebus")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = a.Publish(ctx, f.Identity, true)
	require.NoError(t, err)
	public, err := a.ListPublicFrames(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, public, 1)
	all, err := a.ListFrames(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	ok, err = a.IndexFrames(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := a.CountFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	info, err := a.DBInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Frames)
}

func TestClientRestoresTypedErrors(t *testing.T) {
	s := serializer.NewJSONSerializer()
	srv := startServer(t, s)
	a := newClient(t, &loopTransport{endpoints: []func(context.Context, []byte) []byte{srv.Handle}}, s)

	_, err := a.FrameFromIdentity(context.Background(), "missing")
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = a.Publish(context.Background(), "missing", true)
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = a.CreateFrame(context.Background(), frame.Draft{Kind: frame.KindPtr(frame.Kind(42))})
	assert.ErrorIs(t, err, api.ErrInvalid)

	down := newClient(t, &loopTransport{
		endpoints: []func(context.Context, []byte) []byte{srv.Handle},
		fail:      errors.New("connection refused"),
	}, s)
	_, err = down.CountFrames(context.Background())
	assert.ErrorIs(t, err, api.ErrUnavailable)
}

func TestClientMovesToLeader(t *testing.T) {
	s := serializer.NewGOBSerializer()
	srv := startServer(t, s)
	tr := &loopTransport{endpoints: []func(context.Context, []byte) []byte{follower(s), srv.Handle}}
	a := newClient(t, tr, s)

	ok, err := a.Register(context.Background(), "bob", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{0, 1}, tr.sent)

	// the leader stays current
	_, err = a.CountFrames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, tr.sent)

	onlyFollowers := newClient(t, &loopTransport{
		endpoints: []func(context.Context, []byte) []byte{follower(s), follower(s)},
	}, s)
	_, err = onlyFollowers.Register(context.Background(), "carol", "pw")
	assert.ErrorIs(t, err, api.ErrNotLeader)
}
