package store

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGetPreference      QueryType = iota + 1 // string: setting value or Query.Default.
	QueryTListFrames                              // []frame.Frame, newest first, at most Query.Limit.
	QueryTListPublicFrames                        // []frame.Frame, published only.
	QueryTSearchFrames                            // []frame.Frame matching Query.Text.
	QueryTSearchPublicFrames                      // []frame.Frame matching Query.Text, published only.
	QueryTFrame                                   // frame.Frame by Query.Identity, RetCNotFound if absent.
	QueryTCountFrames                             // int.
	QueryTEnableRegister                          // bool.
	QueryTGetDBInfo                               // db.DatabaseInfo of the queried replica.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGetPreference:
		return "GetPreference"
	case QueryTListFrames:
		return "ListFrames"
	case QueryTListPublicFrames:
		return "ListPublicFrames"
	case QueryTSearchFrames:
		return "SearchFrames"
	case QueryTSearchPublicFrames:
		return "SearchPublicFrames"
	case QueryTFrame:
		return "Frame"
	case QueryTCountFrames:
		return "CountFrames"
	case QueryTEnableRegister:
		return "EnableRegister"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type     QueryType // The type of Query to perform.
	Key      string    // Setting key (GetPreference).
	Default  string    // Returned by GetPreference if the key is unset.
	Identity string    // Frame identity (Frame).
	Text     string    // Full-text query (SearchFrames).
	Limit    int       // Maximum number of frames (ListFrames). <= 0 selects DefaultLimit.
}

const (
	// DefaultLimit is used by list queries without a positive limit.
	DefaultLimit = 10
	// MaxLimit caps the number of frames a single list query returns.
	MaxLimit = 1000
)

// NormalizeLimit applies DefaultLimit and MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
