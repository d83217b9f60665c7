// Package serializer converts RPC messages to bytes and back.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - NewCBORSerializer: deterministic CBOR (fxamacker/cbor), the same
//     encoding used for the raft log and snapshots. This is the default.
//
//   - NewJSONSerializer: JSON encoding, useful for debugging or for
//     clients written in other languages.
//
//   - NewGOBSerializer: Go's gob encoding. Frame payloads are sent as
//     their JSON text.
//
// All three share codecSerializer, which resets the target message before
// decoding into it.
//
// Client and server must use the same serializer.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.FromName("cbor")
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = s.Deserialize(receivedData, &receivedMsg)
package serializer
