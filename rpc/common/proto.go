package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Username string       `json:"username,omitempty"` // Used for: Register, Login, Logout
	Password string       `json:"password,omitempty"` // Used for: Register, Login
	Key      string       `json:"key,omitempty"`      // Used for: GetPreference, SetPreference
	Value    string       `json:"value,omitempty"`    // Used for: SetPreference (request), GetPreference (default in request, value in response)
	Identity string       `json:"identity,omitempty"` // Used for: Frame, Publish
	Text     string       `json:"text,omitempty"`     // Used for: SearchFrames, SearchPublicFrames
	Limit    int          `json:"limit,omitempty"`    // Used for: ListFrames, ListPublicFrames
	Status   bool         `json:"status,omitempty"`   // Used for: Publish, SetEnableRegister
	Draft    *frame.Draft `json:"draft,omitempty"`    // Used for: CreateFrame

	// Response only fields
	Ok     bool             `json:"ok,omitempty"`     // Used for: Register, Login, Logout, EnableRegister, IndexFrames
	Frame  *frame.Frame     `json:"frame,omitempty"`  // Used for: CreateFrame, Frame, Publish
	Frames []frame.Frame    `json:"frames,omitempty"` // Used for: list and search responses
	Count  int              `json:"count,omitempty"`  // Used for: CountFrames
	Info   *db.DatabaseInfo `json:"info,omitempty"`   // Used for: DBInfo
	Code   store.RetCode    `json:"code,omitempty"`   // RetCSuccess if no error
	Err    string           `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates an empty request of the given type.
func NewRequest(t MessageType) *Message {
	return &Message{MsgType: t}
}

// NewResponse creates a response to a request of type t. If err is not
// nil its code and message are copied into the response.
func NewResponse(t MessageType, code store.RetCode, err error) *Message {
	msg := &Message{MsgType: t}
	if err != nil {
		msg.Code = code
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code store.RetCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    code,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Account operations

	MsgTRegister // Create a user
	MsgTLogin    // Check a password
	MsgTLogout   // Acknowledge a logout

	// Preference operations

	MsgTGetPreference     // Read a setting
	MsgTSetPreference     // Write a setting
	MsgTEnableRegister    // Read the registration switch
	MsgTSetEnableRegister // Write the registration switch

	// Frame operations

	MsgTCreateFrame        // Store a new frame
	MsgTListFrames         // Newest frames
	MsgTListPublicFrames   // Newest published frames
	MsgTSearchFrames       // Full-text search
	MsgTSearchPublicFrames // Full-text search over published frames
	MsgTFrame              // Frame by identity
	MsgTPublish            // Change the publish flag
	MsgTIndexFrames        // Rebuild the search index
	MsgTCountFrames        // Number of frames
	MsgTDBInfo             // Database info of the answering node
)

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:            "success",
	MsgTError:              "error",
	MsgTRegister:           "register",
	MsgTLogin:              "login",
	MsgTLogout:             "logout",
	MsgTGetPreference:      "get_preference",
	MsgTSetPreference:      "set_preference",
	MsgTEnableRegister:     "enable_register",
	MsgTSetEnableRegister:  "set_enable_register",
	MsgTCreateFrame:        "create_frame",
	MsgTListFrames:         "list_frames",
	MsgTListPublicFrames:   "list_public_frames",
	MsgTSearchFrames:       "search_frames",
	MsgTSearchPublicFrames: "search_public_frames",
	MsgTFrame:              "frame",
	MsgTPublish:            "publish",
	MsgTIndexFrames:        "index_frames",
	MsgTCountFrames:        "count_frames",
	MsgTDBInfo:             "db_info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseMessageType is the inverse of MessageType.String.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
