package store

import (
	"fmt"

	"github.com/ValentinKolb/piebus/lib/codec"
	"github.com/ValentinKolb/piebus/lib/frame"
)

// EnableRegisterKey is the settings key behind the registration toggle.
const EnableRegisterKey = "enable_register"

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTRegister      CommandType = iota + 1 // Create a credential if the username is free.
	CommandTLogin                                // Check a password digest against a credential.
	CommandTLogout                               // Acknowledge a logout.
	CommandTSetPreference                        // Insert or overwrite a setting.
	CommandTCreateFrame                          // Store and index a new frame.
	CommandTPublish                              // Change the publish flag of a frame.
	CommandTIndexFrames                          // Rebuild the search index.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTRegister:
		return "register"
	case CommandTLogin:
		return "login"
	case CommandTLogout:
		return "logout"
	case CommandTSetPreference:
		return "set_preference"
	case CommandTCreateFrame:
		return "create_frame"
	case CommandTPublish:
		return "publish"
	case CommandTIndexFrames:
		return "index_frames"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(ct))
	}
}

// KindUnset marks a CreateFrame command without an explicit kind.
const KindUnset int8 = -1

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// Everything that is not a pure function of the log (identities, clocks,
// password hashes) is resolved by the submitter and carried in the command.
type Command struct {
	Type CommandType `json:"type"`

	// register, login, logout
	Username string `json:"username,omitempty"`
	Secret   string `json:"secret,omitempty"` // bcrypt hash (register) or password digest (login)
	Note     string `json:"note,omitempty"`

	// set_preference
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// create_frame, publish
	Identity string        `json:"identity,omitempty"`
	Kind     int8          `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Data     frame.Mapping `json:"data,omitempty"`
	Meta     frame.Mapping `json:"meta,omitempty"`
	Render   string        `json:"render,omitempty"`
	Tags     string        `json:"tags,omitempty"`
	Status   bool          `json:"status,omitempty"`

	// Timestamp in unix nanoseconds (UTC), set by the submitter.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Serialize encodes the command with deterministic CBOR.
func (c *Command) Serialize() ([]byte, error) {
	return codec.Marshal(c)
}

// Deserialize decodes a command written by Serialize.
func (c *Command) Deserialize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty command")
	}
	if err := codec.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	return nil
}

// Result is the outcome of an applied command. Code is RetCSuccess unless
// the state machine rejected the command; Msg then explains why.
type Result struct {
	Code  RetCode      `json:"code"`
	Msg   string       `json:"msg,omitempty"`
	Ok    bool         `json:"ok,omitempty"`
	Value string       `json:"value,omitempty"`
	Frame *frame.Frame `json:"frame,omitempty"`
}

// Err converts a rejected result into a *Error.
func (r Result) Err() error {
	if r.Code == RetCSuccess {
		return nil
	}
	return NewError(r.Code, r.Msg)
}

// Reject builds a failed result.
func Reject(code RetCode, format string, args ...any) Result {
	return Result{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Serialize encodes the result with deterministic CBOR.
func (r *Result) Serialize() ([]byte, error) {
	return codec.Marshal(r)
}

// Deserialize decodes a result written by Serialize.
func (r *Result) Deserialize(data []byte) error {
	return codec.Unmarshal(data, r)
}
