package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a frame. The wire and storage form is the integer value.
type Kind int8

const (
	KindCommand  Kind = iota // 0
	KindEvent                // 1, the default
	KindMessage              // 2
	KindRequest              // 3
	KindResponse             // 4
	KindState                // 5
	KindStream               // 6
)

// DefaultKind is applied when a draft leaves the kind unset.
const DefaultKind = KindEvent

var kindNames = [...]string{"command", "event", "message", "request", "response", "state", "stream"}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Unknown(%d)", int8(k))
}

// Valid reports whether k is one of the seven defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCommand && k <= KindStream
}

// ParseKind accepts a kind name or its integer value. The empty string
// selects DefaultKind.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return DefaultKind, nil
	}
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(KindCommand) || n > int(KindStream) {
		return 0, fmt.Errorf("unknown frame kind %q", s)
	}
	return Kind(n), nil
}
