package process

import (
	"bytes"
	"encoding/json"
	"errors"
)

// errTrailingData indicates stdout contained more than one JSON value.
var errTrailingData = errors.New("trailing data after JSON value")

// ParsedCapture is a CaptureResult whose stdout has been classified against
// the MCP-shaped JSON predicate from spec.md §4.2.
type ParsedCapture struct {
	*CaptureResult

	// Value is the decoded stdout JSON value, or nil if stdout did not parse
	// as a single JSON value.
	Value any

	// DecodeErr is the error from attempting to decode Stdout as JSON, or
	// nil if decoding succeeded (including the case of empty stdout, which
	// decodes to a nil Value with no error).
	DecodeErr error
}

// Parse decodes cr.Stdout as JSON. Leading and trailing whitespace (including
// any number of newlines) is ignored, matching the line-delimited framing tool providers
// are expected to use; anything else left over after the first JSON value
// is treated as a decode failure, since a provider that writes more than one
// value to stdout has not produced a parseable result.
func Parse(cr *CaptureResult) *ParsedCapture {
	pc := &ParsedCapture{CaptureResult: cr}

	trimmed := bytes.TrimSpace(cr.Stdout)
	if len(trimmed) == 0 {
		return pc
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))

	var v any
	if err := dec.Decode(&v); err != nil {
		pc.DecodeErr = err

		return pc
	}

	if dec.More() {
		pc.DecodeErr = errTrailingData

		return pc
	}

	pc.Value = v

	return pc
}

// IsJSONObject reports whether the parsed stdout value decoded to a JSON
// object, the shape a tool-call response must have.
func (pc *ParsedCapture) IsJSONObject() bool {
	if pc.DecodeErr != nil || pc.Value == nil {
		return false
	}

	_, ok := pc.Value.(map[string]any)

	return ok
}

// Object returns the decoded stdout value as a JSON object and true, or
// nil and false if it did not decode to an object.
func (pc *ParsedCapture) Object() (map[string]any, bool) {
	obj, ok := pc.Value.(map[string]any)

	return obj, ok
}

// IsMCPShaped reports whether stdout parsed as a single JSON object
// containing a "content" field, the minimum shape spec.md §4.2 requires of
// a successful tool-call result.
func (pc *ParsedCapture) IsMCPShaped() bool {
	obj, ok := pc.Object()
	if !ok {
		return false
	}

	_, hasContent := obj["content"]

	return hasContent
}
