package frame

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/piebus/lib/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecodeMapping(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Mapping
		wantErr bool
	}{
		{name: "empty", raw: "", want: Mapping{}},
		{name: "whitespace", raw: "  \n", want: Mapping{}},
		{name: "null", raw: "null", want: Mapping{}},
		{name: "object", raw: `{"text":"hi","n":12,"ok":true,"x":null}`, want: Mapping{
			"text": String("hi"), "n": Number("12"), "ok": Bool(true), "x": Null{},
		}},
		{name: "nested", raw: `{"a":[1,"b",{"c":false}]}`, want: Mapping{
			"a": Sequence{Number("1"), String("b"), Mapping{"c": Bool(false)}},
		}},
		{name: "big integer keeps precision", raw: `{"id":18446744073709551615}`, want: Mapping{
			"id": Number("18446744073709551615"),
		}},
		{name: "array is not a mapping", raw: `[1,2]`, wantErr: true},
		{name: "malformed", raw: `{"a":`, wantErr: true},
		{name: "trailing data", raw: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMapping([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMappingOrEmpty(t *testing.T) {
	m, err := MappingOrEmpty("not json")
	assert.Error(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestMappingJSONIsCanonical(t *testing.T) {
	m := Mapping{"b": Int(2), "a": String("x"), "c": Sequence{Bool(true), Null{}}}
	assert.Equal(t, `{"a":"x","b":2,"c":[true,null]}`, m.JSON())
	assert.Equal(t, "{}", Mapping(nil).JSON())
}

func TestMappingText(t *testing.T) {
	m := Mapping{
		"text":    String("hello"),
		"n":       Int(3),
		"nothing": Null{},
		"obj":     Mapping{"k": String("v")},
		"empty":   Mapping{},
	}
	assert.Equal(t, "hello", m.Text("text"))
	assert.Equal(t, "3", m.Text("n"))
	assert.Equal(t, "", m.Text("nothing"))
	assert.Equal(t, "", m.Text("missing"))
	assert.Equal(t, `{"k":"v"}`, m.Text("obj"))
	assert.Equal(t, "", m.Text("empty"))
}

func TestMappingCBOR(t *testing.T) {
	m := Mapping{
		"text": String("hello"),
		"neg":  Int(-7),
		"list": Sequence{String("a"), Int(1)},
		"sub":  Mapping{"flag": Bool(false), "none": Null{}},
	}
	b, err := codec.Marshal(m)
	require.NoError(t, err)

	var got Mapping
	require.NoError(t, codec.Unmarshal(b, &got))
	assert.Equal(t, m, got)

	// deterministic encoding
	again, err := codec.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestMappingCBORKeepsNumberLiterals(t *testing.T) {
	m, err := DecodeMapping([]byte(`{"big":123456789012345678901234567890,"f":1.50}`))
	require.NoError(t, err)

	b, err := codec.Marshal(m)
	require.NoError(t, err)
	var got Mapping
	require.NoError(t, codec.Unmarshal(b, &got))
	assert.Equal(t, Number("123456789012345678901234567890"), got["big"])
	assert.Equal(t, Number("1.50"), got["f"])

	// a plain CBOR map is accepted as well
	plain, err := codec.Marshal(map[string]any{"n": 3})
	require.NoError(t, err)
	require.NoError(t, codec.Unmarshal(plain, &got))
	assert.Equal(t, Mapping{"n": Int(3)}, got)

	list, err := codec.Marshal([]any{1})
	require.NoError(t, err)
	assert.ErrorIs(t, codec.Unmarshal(list, &got), ErrNotMapping)
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	_, err = FromAny(map[string]any{"x": []any{make(chan int)}})
	assert.Error(t, err)
}

func TestFrameJSONUsesIntegerKind(t *testing.T) {
	f := Frame{Identity: "abc", Kind: KindState, Data: Mapping{"a": Int(1)}}
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.EqualValues(t, 5, raw["kind"])
	assert.Equal(t, map[string]any{}, raw["meta"])

	var back Frame
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, f.Data, back.Data)
	assert.Equal(t, KindState, back.Kind)
}

func TestMappingYAML(t *testing.T) {
	out, err := yaml.Marshal(Mapping{"n": Int(42), "s": String("x")})
	require.NoError(t, err)
	assert.Equal(t, "n: 42\ns: x\n", string(out))
}
