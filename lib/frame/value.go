package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/piebus/lib/codec"
)

// Value is a sealed interface over the JSON-like payload tree carried by
// frames. Only Null, Bool, Number, String, Sequence and Mapping implement it.
type Value interface {
	value()
}

// Null is the absent value.
type Null struct{}

// Bool is a boolean leaf.
type Bool bool

// Number is a numeric leaf kept in its JSON literal form, so integers of
// any size survive a round trip without float conversion. ToAny (used for
// YAML output) is the only lossy conversion.
type Number string

// String is a text leaf.
type String string

// Sequence is an ordered list of values.
type Sequence []Value

// Mapping is a string keyed map of values. The data and meta payloads of a
// frame are always mappings.
type Mapping map[string]Value

func (Null) value()     {}
func (Bool) value()     {}
func (Number) value()   {}
func (String) value()   {}
func (Sequence) value() {}
func (Mapping) value()  {}

// ErrNotMapping is returned when a payload decodes to something other than
// a mapping.
var ErrNotMapping = errors.New("payload is not a mapping")

// Int returns the Number for n.
func Int(n int64) Number {
	return Number(strconv.FormatInt(n, 10))
}

// Float returns the Number for f. NaN and infinities have no JSON form and
// are rejected by FromAny, so callers should not pass them here.
func Float(f float64) Number {
	return Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// --------------------------------------------------------------------------
// Conversion from and to plain Go values
// --------------------------------------------------------------------------

// FromAny converts a decoded JSON or CBOR tree into a Value.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return Number(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("unsupported number %v", x)
		}
		return Float(x), nil
	case float32:
		return FromAny(float64(x))
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Number(strconv.FormatUint(x, 10)), nil
	case []any:
		seq := make(Sequence, len(x))
		for i, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq[i] = ev
		}
		return seq, nil
	case map[string]any:
		m := make(Mapping, len(x))
		for k, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = ev
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToAny converts a Value into plain Go values (nil, bool, int64, uint64,
// float64, string, []any, map[string]any).
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Number:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return f
		}
		return string(x)
	case String:
		return string(x)
	case Sequence:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToAny(e)
		}
		return out
	case Mapping:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// --------------------------------------------------------------------------
// Mapping helpers
// --------------------------------------------------------------------------

// DecodeMapping parses the textual (JSON) form of a payload. Empty input
// yields an empty mapping.
func DecodeMapping(raw []byte) (Mapping, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Mapping{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after payload")
	}
	if tree == nil {
		return Mapping{}, nil
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, ErrNotMapping
	}
	v, err := FromAny(obj)
	if err != nil {
		return nil, err
	}
	return v.(Mapping), nil
}

// MappingOrEmpty is DecodeMapping for stored payloads: undecodable text
// degrades to an empty mapping. The error is returned so the caller can
// log it.
func MappingOrEmpty(raw string) (Mapping, error) {
	m, err := DecodeMapping([]byte(raw))
	if err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// JSON returns the canonical textual form of the mapping (sorted keys).
func (m Mapping) JSON() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Text returns the textual form of the value under key. Strings are
// returned as is, missing keys and nulls as "", anything else as JSON.
func (m Mapping) Text(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return TextOf(v)
}

// TextOf renders a single value as text.
func TextOf(v Value) string {
	switch x := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(x)
	case Mapping:
		if len(x) == 0 {
			return ""
		}
		return x.JSON()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// GetString returns the value under key if it is a string.
func (m Mapping) GetString(key string) (string, bool) {
	s, ok := m[key].(String)
	return string(s), ok
}

// --------------------------------------------------------------------------
// Encoding (JSON, CBOR, gob, YAML)
// --------------------------------------------------------------------------

func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return []byte("0"), nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid number literal %q", s)
	}
	return []byte(s), nil
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Value(s))
}

func (m Mapping) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(m))
}

func (m *Mapping) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeMapping(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// MarshalCBOR encodes the mapping as a CBOR text string holding its
// canonical JSON form, so number literals reach every replica unchanged.
func (m Mapping) MarshalCBOR() ([]byte, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(string(b))
}

func (m *Mapping) UnmarshalCBOR(data []byte) error {
	var tree any
	if err := codec.Unmarshal(data, &tree); err != nil {
		return err
	}
	switch x := tree.(type) {
	case nil:
		*m = Mapping{}
		return nil
	case string:
		return m.UnmarshalJSON([]byte(x))
	case map[string]any:
		// plain CBOR maps from clients that do not know the text form
		v, err := FromAny(x)
		if err != nil {
			return err
		}
		*m = v.(Mapping)
		return nil
	default:
		return ErrNotMapping
	}
}

func (m Mapping) GobEncode() ([]byte, error) {
	return m.MarshalJSON()
}

func (m *Mapping) GobDecode(data []byte) error {
	return m.UnmarshalJSON(data)
}

func (m Mapping) MarshalYAML() (interface{}, error) {
	return ToAny(m), nil
}
