/*
Package frame defines the record type of the bus and its payload tree.

A Frame is identified by a 32 character hex identity and carries a kind, a
name, two structured payloads (data and meta), a publish flag, a render hint,
free text tags and a creation timestamp. The payloads are modelled as a
sealed Value tree (Null, Bool, Number, String, Sequence, Mapping) instead of
untyped maps, so every encoder used by the module (JSON, CBOR, gob, YAML)
sees the same shape.

Decoding a stored payload is fallible (DecodeMapping). Readers that must not
fail on old or damaged rows use MappingOrEmpty and log the returned error.
*/
package frame
