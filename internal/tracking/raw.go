package tracking

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// RawValue is an upstream field that may arrive as a string, a number, a
// boolean or null. It keeps the textual form for later normalization.
type RawValue struct {
	text    string
	numeric bool
	null    bool
}

// NewRawString builds a RawValue as if it arrived as a JSON string
func NewRawString(s string) RawValue {
	return RawValue{text: s}
}

// NewRawNumber builds a RawValue as if it arrived as a JSON number
func NewRawNumber(n string) RawValue {
	return RawValue{text: n, numeric: true}
}

// NullRaw is a RawValue that arrived as JSON null or was missing
func NullRaw() RawValue {
	return RawValue{null: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = RawValue{null: true}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode string value: %w", err)
		}
		*v = RawValue{text: s}
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*v = RawValue{text: string(data), numeric: true}
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = RawValue{text: string(data)}
	default:
		return fmt.Errorf("unsupported value %s", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (v RawValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.null:
		return []byte("null"), nil
	case v.numeric:
		return []byte(v.text), nil
	default:
		return json.Marshal(v.text)
	}
}

// String returns the textual form, "" for null
func (v RawValue) String() string {
	return v.text
}

// IsNull reports whether the value was null or missing
func (v RawValue) IsNull() bool {
	return v.null
}

// absentTokens are the textual forms treated as "no value"
var absentTokens = map[string]struct{}{
	"":     {},
	"0":    {},
	"None": {},
	"null": {},
}

// Absent reports whether the value is one of the "no value" markers
func (v RawValue) Absent() bool {
	if v.null {
		return true
	}
	_, ok := absentTokens[v.text]
	return ok
}

// Float parses the value as a decimal number
func (v RawValue) Float() (float64, bool) {
	if v.Absent() {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int parses the value as an integer code. Numeric values with a zero
// fractional part are accepted.
func (v RawValue) Int() (int, bool) {
	if v.null || v.text == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v.text); err == nil {
		return n, true
	}
	if v.numeric {
		if f, err := strconv.ParseFloat(v.text, 64); err == nil && f == float64(int(f)) {
			return int(f), true
		}
	}
	return 0, false
}
