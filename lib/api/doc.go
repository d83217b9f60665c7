// Package api is the operation surface of piebus.
//
// API turns user requests into replicated commands. Before a command is
// submitted every nondeterministic input is resolved here, once: frame
// identities (random UUIDs), creation timestamps (UTC) and bcrypt hashes of
// new passwords. Logins carry only the password digest. The state machine
// behind the store therefore sees the same bytes on every replica.
//
// Reads are plain queries against the local replica. Errors from the store
// are mapped onto the sentinel errors of this package (ErrNotFound,
// ErrInvalid, ErrUnavailable, ErrNotLeader, ErrInternal) so callers can use
// errors.Is regardless of whether they talk to an in-process API or to the
// RPC client.
package api
