package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/piebus/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// FromName returns the serializer registered under name (json, gob or cbor).
func FromName(name string) (IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "cbor", "":
		return NewCBORSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (must be one of json, gob, cbor)", name)
	}
}
