package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
	assert.Equal(t, "", WrapString(""))
}

func TestReplicaID(t *testing.T) {
	assert.Equal(t, uint64(3), ReplicaID("3"))
	assert.Equal(t, HashString("node-1", 0), ReplicaID("node-1"))
	assert.NotEqual(t, ReplicaID("node-1"), ReplicaID("node-2"))
	assert.Equal(t, HashString("0", 0), ReplicaID("0"))
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("node-1=localhost:63001, node-2=localhost:63002")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{
		ReplicaID("node-1"): "localhost:63001",
		ReplicaID("node-2"): "localhost:63002",
	}, members)

	for _, bad := range []string{"node-1", "node-1=", "=addr", "a=b=c", "n=a,n=b"} {
		_, err := ParseClusterMembers(bad)
		assert.Error(t, err, bad)
	}

	members, err = ParseClusterMembers("")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestPrint(t *testing.T) {
	f := frame.Frame{Identity: "abc", Name: "hello", Data: frame.Mapping{"text": frame.String("hi")}}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, "yaml", f))
	assert.Contains(t, buf.String(), "identity: abc")
	assert.Contains(t, buf.String(), "text: hi")

	buf.Reset()
	require.NoError(t, Print(&buf, "json", f))
	assert.Contains(t, buf.String(), `"identity": "abc"`)

	assert.Error(t, Print(&buf, "xml", f))
}
