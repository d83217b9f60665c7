package frame

import (
	"encoding/json"
	"time"
)

// DefaultRender is the render hint applied when a draft leaves it empty.
const DefaultRender = "default"

// Frame is an immutable record of the bus. Only the publish flag (and
// PublishRev, the log position of its last change) is ever updated after
// creation.
type Frame struct {
	Identity   string    `json:"identity" yaml:"identity"`
	Kind       Kind      `json:"kind" yaml:"kind"`
	Name       string    `json:"name" yaml:"name"`
	Data       Mapping   `json:"data" yaml:"data"`
	Meta       Mapping   `json:"meta" yaml:"meta"`
	Publish    bool      `json:"publish" yaml:"publish"`
	PublishRev uint64    `json:"publish_rev" yaml:"publish_rev"`
	Render     string    `json:"render" yaml:"render"`
	Source     string    `json:"source" yaml:"source"`
	Tags       string    `json:"tags" yaml:"tags"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// Draft holds the caller supplied fields of a frame that is about to be
// created. Identity, timestamp and source are assigned on creation.
type Draft struct {
	Kind    *Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name    string  `json:"name" yaml:"name"`
	Data    Mapping `json:"data" yaml:"data"`
	Meta    Mapping `json:"meta" yaml:"meta"`
	Publish bool    `json:"publish" yaml:"publish"`
	Render  string  `json:"render" yaml:"render"`
	Tags    string  `json:"tags" yaml:"tags"`
}

// KindOrDefault resolves the draft's kind.
func (d Draft) KindOrDefault() Kind {
	if d.Kind == nil {
		return DefaultKind
	}
	return *d.Kind
}

// GobEncode sends the draft as JSON. gob drops zero values behind
// pointers, so KindCommand would otherwise read back as unset.
func (d Draft) GobEncode() ([]byte, error) {
	type plain Draft
	return json.Marshal(plain(d))
}

func (d *Draft) GobDecode(data []byte) error {
	type plain Draft
	return json.Unmarshal(data, (*plain)(d))
}

// KindPtr is a helper for filling Draft.Kind.
func KindPtr(k Kind) *Kind {
	return &k
}

// SourceOf extracts the source attribute from a meta payload.
func SourceOf(meta Mapping) string {
	return meta.Text("source")
}
