/*
Package codec holds the single CBOR configuration used for everything that
is written to the replicated log, returned from the state machine or stored
in snapshots.

Commands must encode to identical bytes on every replica, so the encoder is
configured with Core Deterministic Encoding (RFC 8949 section 4.2). Timestamps
are encoded as RFC 3339 strings with nanosecond precision.

Values that are decoded into `any` become map[string]any rather than the
CBOR default map[any]any, which keeps decoded payload trees usable with
encoding/json.
*/
package codec
