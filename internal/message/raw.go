package message

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrNotObject is returned when a decoded JSON value is not an object.
var ErrNotObject = errors.New("json value is not an object")

// ErrInvalidJSON is returned when bytes do not form a single valid JSON value.
var ErrInvalidJSON = errors.New("invalid json")

// Raw is one decoded JSON object from the export. No field is guaranteed to
// be present or well typed.
type Raw struct {
	data []byte
}

// NewRaw validates data as a single JSON object and wraps it.
func NewRaw(data []byte) (Raw, error) {
	if !gjson.ValidBytes(data) {
		return Raw{}, ErrInvalidJSON
	}
	if !gjson.ParseBytes(data).IsObject() {
		return Raw{}, ErrNotObject
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return Raw{data: cp}, nil
}

// Get looks up a top-level field. The result's Exists reports presence.
func (r Raw) Get(field string) gjson.Result {
	return gjson.GetBytes(r.data, gjson.Escape(field))
}

// String returns a top-level string field, or "" when absent or not a string.
func (r Raw) String(field string) string {
	v := r.Get(field)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

// Bytes returns the object's JSON text.
func (r Raw) Bytes() []byte {
	return r.data
}
