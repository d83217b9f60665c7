package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/piebus/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory creates the database used by the store. It is called once per
// replica (the distributed store calls it when dragonboat opens the state
// machine).
type DBFactory = db.Factory

// IStore is the replication layer: a single totally ordered stream of
// commands applied to a state machine, plus read queries against it.
//
// Submit returns once the command was committed and applied, or fails with
// a *Error. A Unavailable error after the command was proposed means its
// outcome is unknown: it may still be applied later.
type IStore interface {
	// Submit appends cmd to the log and returns the outcome of applying it.
	// Business rejections (unknown frame, invalid kind, ...) are reported
	// as a non-nil error carrying the code of the Result.
	Submit(ctx context.Context, cmd Command) (res Result, err error)

	// Query runs a read against the applied state. The concrete type of
	// the returned value depends on q.Type (see QueryType).
	Query(ctx context.Context, q Query) (res any, err error)

	// Close releases the store. The database is closed as well.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf is NewError with a format string.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of a store error, RetCSuccess for nil and
// RetCInternalError for any other error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation or argument.
	RetCNotFound                        // 3: The referenced frame does not exist.
	RetCUnavailable                     // 4: No quorum, timeout or closed store. The outcome of a write is unknown.
	RetCNotLeader                       // 5: This replica does not accept writes, retry on another endpoint.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCUnavailable:
		return "Unavailable"
	case RetCNotLeader:
		return "NotLeader"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
