// Package normalize turns raw model output into either a JSON value or
// cleaned plain text.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind tells which variant a Result holds.
type Kind int

const (
	KindText Kind = iota
	KindJSON
)

func (k Kind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "text"
}

// Result is the normalized form of one model reply. Exactly one of JSON or
// Text is meaningful, selected by Kind.
type Result struct {
	Kind Kind
	JSON json.RawMessage
	Text string
}

// IsJSON reports whether the reply parsed as JSON.
func (r Result) IsJSON() bool {
	return r.Kind == KindJSON
}

// String returns the JSON text or the cleaned text.
func (r Result) String() string {
	if r.IsJSON() {
		return string(r.JSON)
	}
	return r.Text
}

// MarshalJSON embeds the JSON value as-is, or the cleaned text as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsJSON() {
		return r.JSON, nil
	}
	return json.Marshal(r.Text)
}

// Normalize parses raw strictly as JSON. A valid document is compacted,
// which keeps key order and values. Anything else is returned as text with
// every whitespace run collapsed to a single space.
func Normalize(raw string) Result {
	if json.Valid([]byte(raw)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(raw)); err == nil {
			return Result{Kind: KindJSON, JSON: json.RawMessage(buf.Bytes())}
		}
	}
	return Result{Kind: KindText, Text: CleanText(raw)}
}

// CleanText collapses whitespace runs, newlines included, and trims.
// CleanText(CleanText(s)) == CleanText(s).
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
