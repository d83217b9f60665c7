package serializer

import (
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
	"CBOR": NewCBORSerializer,
}

func testFrame() frame.Frame {
	return frame.Frame{
		Identity: "0123456789abcdef0123456789abcdef",
		Kind:     frame.KindMessage,
		Name:     "greeting",
		Data: frame.Mapping{
			"text":  frame.String("hello world"),
			"count": frame.Int(3),
			"tags":  frame.Sequence{frame.String("a"), frame.Bool(true), frame.Null{}},
		},
		Meta:       frame.Mapping{"source": frame.String("cli")},
		Publish:    true,
		PublishRev: 42,
		Render:     frame.DefaultRender,
		Source:     "cli",
		Tags:       "x y",
		Timestamp:  time.Date(2024, 6, 1, 12, 30, 0, 123456789, time.UTC),
	}
}

func assertFrameEqual(t *testing.T, want, got frame.Frame) {
	t.Helper()
	assert.Equal(t, want.Identity, got.Identity)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Data.JSON(), got.Data.JSON())
	assert.Equal(t, want.Meta.JSON(), got.Meta.JSON())
	assert.Equal(t, want.Publish, got.Publish)
	assert.Equal(t, want.PublishRev, got.PublishRev)
	assert.Equal(t, want.Render, got.Render)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.Tags, got.Tags)
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %s != %s", want.Timestamp, got.Timestamp)
}

func roundTrip(t *testing.T, s IRPCSerializer, msg common.Message) common.Message {
	t.Helper()
	data, err := s.Serialize(msg)
	require.NoError(t, err)
	var result common.Message
	require.NoError(t, s.Deserialize(data, &result))
	return result
}

// TestRequestRoundTrip checks the request fields of every operation
func TestRequestRoundTrip(t *testing.T) {
	kind := frame.KindCommand
	requests := []common.Message{
		{MsgType: common.MsgTRegister, Username: "alice", Password: "secret"},
		{MsgType: common.MsgTGetPreference, Key: "theme", Value: "light"},
		{MsgType: common.MsgTSearchFrames, Text: "hello OR world"},
		{MsgType: common.MsgTListPublicFrames, Limit: 25},
		{MsgType: common.MsgTPublish, Identity: "abc", Status: true},
		{MsgType: common.MsgTCreateFrame, Draft: &frame.Draft{
			Kind: &kind, Name: "cmd", Data: frame.Mapping{"text": frame.String("run")}, Tags: "t",
		}},
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for _, req := range requests {
				got := roundTrip(t, s, req)
				assert.Equal(t, req.MsgType, got.MsgType)
				assert.Equal(t, req.Username, got.Username)
				assert.Equal(t, req.Password, got.Password)
				assert.Equal(t, req.Key, got.Key)
				assert.Equal(t, req.Value, got.Value)
				assert.Equal(t, req.Text, got.Text)
				assert.Equal(t, req.Limit, got.Limit)
				assert.Equal(t, req.Identity, got.Identity)
				assert.Equal(t, req.Status, got.Status)
				if req.Draft == nil {
					assert.Nil(t, got.Draft)
					continue
				}
				require.NotNil(t, got.Draft)
				assert.Equal(t, req.Draft.KindOrDefault(), got.Draft.KindOrDefault())
				assert.Equal(t, req.Draft.Name, got.Draft.Name)
				assert.Equal(t, req.Draft.Data.JSON(), got.Draft.Data.JSON())
				assert.Equal(t, req.Draft.Tags, got.Draft.Tags)
			}
		})
	}
}

// TestResponseRoundTrip checks frames, info and error codes
func TestResponseRoundTrip(t *testing.T) {
	f := testFrame()
	other := testFrame()
	other.Identity = "fedcba9876543210fedcba9876543210"
	other.Data = frame.Mapping{}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			got := roundTrip(t, s, common.Message{MsgType: common.MsgTFrame, Frame: &f})
			require.NotNil(t, got.Frame)
			assertFrameEqual(t, f, *got.Frame)

			got = roundTrip(t, s, common.Message{MsgType: common.MsgTListFrames, Frames: []frame.Frame{f, other}})
			require.Len(t, got.Frames, 2)
			assertFrameEqual(t, f, got.Frames[0])
			assertFrameEqual(t, other, got.Frames[1])

			info := db.DatabaseInfo{DbType: db.ImplSQLite, AppliedIndex: 9, Frames: 2, Metadata: map[string]string{"path": ":memory:"}}
			got = roundTrip(t, s, common.Message{MsgType: common.MsgTDBInfo, Info: &info})
			require.NotNil(t, got.Info)
			assert.Equal(t, info, *got.Info)

			got = roundTrip(t, s, *common.NewErrorResponse(store.RetCNotLeader, "replica 2 is not the leader"))
			assert.Equal(t, common.MsgTError, got.MsgType)
			assert.Equal(t, store.RetCNotLeader, got.Code)
			assert.Equal(t, "replica 2 is not the leader", got.Err)

			got = roundTrip(t, s, common.Message{MsgType: common.MsgTCountFrames, Count: 7, Ok: true})
			assert.Equal(t, 7, got.Count)
			assert.True(t, got.Ok)
		})
	}
}

// TestInvalidData tests deserialization of invalid data
func TestInvalidData(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var msg common.Message
			assert.Error(t, factory().Deserialize([]byte{0xff, 0x01, 0x02}, &msg))
		})
	}
}

func TestFromName(t *testing.T) {
	for _, name := range []string{"json", "GOB", "cbor", ""} {
		s, err := FromName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := FromName("binary")
	assert.Error(t, err)
}

func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			data, err := s.Serialize(*common.NewRequest(common.MsgTCountFrames))
			require.NoError(t, err)

			msg := common.Message{Key: "stale", Limit: 7}
			require.NoError(t, s.Deserialize(data, &msg))
			assert.Equal(t, common.MsgTCountFrames, msg.MsgType)
			assert.Empty(t, msg.Key)
			assert.Zero(t, msg.Limit)
		})
	}
}

func TestJSONRejectsTrailingData(t *testing.T) {
	s := NewJSONSerializer()
	data, err := s.Serialize(*common.NewRequest(common.MsgTCountFrames))
	require.NoError(t, err)

	var msg common.Message
	assert.Error(t, s.Deserialize(append(data, data...), &msg))
}
