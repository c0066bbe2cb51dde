package dealsync

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// scalarKind is the JSON type a Scalar arrived as
type scalarKind uint8

const (
	scalarNull scalarKind = iota
	scalarString
	scalarNumber
	scalarBool
)

// Scalar holds one leaf value of a source document exactly as it was encoded.
// The source is inconsistent about leaf encodings (numbers as strings, booleans
// in numeric fields), so leaves are captured verbatim and interpreted by the
// sanitizers during Transform. Objects and arrays are rejected at decode time.
type Scalar struct {
	kind scalarKind
	text string
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = Scalar{}
		return nil
	}

	switch data[0] {
	case 'n':
		*s = Scalar{}
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar{kind: scalarString, text: str}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*s = Scalar{kind: scalarBool, text: string(data)}
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", describeJSON(data[0]))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = Scalar{kind: scalarNumber, text: n.String()}
	}
	return nil
}

// MarshalJSON implements json.Marshaler so fixtures round trip
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case scalarString:
		return json.Marshal(s.text)
	case scalarNumber, scalarBool:
		return []byte(s.text), nil
	default:
		return []byte("null"), nil
	}
}

// IsNull reports whether the value was absent or JSON null
func (s Scalar) IsNull() bool {
	return s.kind == scalarNull
}

// String returns the raw text of the value
func (s Scalar) String() string {
	return s.text
}

// StringValue builds a string Scalar
func StringValue(v string) Scalar {
	return Scalar{kind: scalarString, text: v}
}

// NumberValue builds a number Scalar from its JSON text
func NumberValue(v string) Scalar {
	return Scalar{kind: scalarNumber, text: v}
}

// BoolValue builds a boolean Scalar
func BoolValue(v bool) Scalar {
	if v {
		return Scalar{kind: scalarBool, text: "true"}
	}
	return Scalar{kind: scalarBool, text: "false"}
}

func describeJSON(c byte) string {
	if c == '{' {
		return "object"
	}
	return "array"
}
