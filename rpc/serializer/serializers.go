package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"

	"github.com/ValentinKolb/piebus/lib/codec"
	"github.com/ValentinKolb/piebus/rpc/common"
)

// errTrailingData is returned when a request body holds more than one message.
var errTrailingData = errors.New("trailing data after message")

// codecSerializer adapts a pair of encode/decode functions to IRPCSerializer
type codecSerializer struct {
	name   string
	encode func(msg common.Message) ([]byte, error)
	decode func(b []byte, msg *common.Message) error
}

func (c codecSerializer) Serialize(msg common.Message) ([]byte, error) {
	return c.encode(msg)
}

func (c codecSerializer) Deserialize(b []byte, msg *common.Message) error {
	// start from an empty message so fields of a reused value do not leak
	*msg = common.Message{}
	return c.decode(b, msg)
}

func (c codecSerializer) String() string {
	return c.name
}

// --------------------------------------------------------------------------
// CBOR
// --------------------------------------------------------------------------

// NewCBORSerializer creates a new serializer using the deterministic CBOR
// encoding that is also used for the raft log
func NewCBORSerializer() IRPCSerializer {
	return codecSerializer{
		name: "cbor",
		encode: func(msg common.Message) ([]byte, error) {
			return codec.Marshal(msg)
		},
		decode: func(b []byte, msg *common.Message) error {
			return codec.Unmarshal(b, msg)
		},
	}
}

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// NewJSONSerializer creates a new serializer using json encoding. A body with
// more than one JSON value is rejected.
func NewJSONSerializer() IRPCSerializer {
	return codecSerializer{
		name: "json",
		encode: func(msg common.Message) ([]byte, error) {
			return json.Marshal(msg)
		},
		decode: func(b []byte, msg *common.Message) error {
			dec := json.NewDecoder(bytes.NewReader(b))
			if err := dec.Decode(msg); err != nil {
				return err
			}
			if dec.More() {
				return errTrailingData
			}
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// GOB
// --------------------------------------------------------------------------

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every message is a self-contained gob stream including its type info.
func NewGOBSerializer() IRPCSerializer {
	return codecSerializer{
		name: "gob",
		encode: func(msg common.Message) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decode: func(b []byte, msg *common.Message) error {
			return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
		},
	}
}
