package mous

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// QAValue holds a QA judgment exactly as it appeared in its source document.
// Manifests and summaries written by different tool generations encode QA as
// booleans, PASS/FAIL words, or truthy tokens; QAValue keeps whichever form was
// present so normalisation can happen in one place.
type QAValue struct {
	b    *bool
	text *string
}

// QABool returns a QAValue carrying a boolean.
func QABool(v bool) QAValue {
	return QAValue{b: &v}
}

// QAText returns a QAValue carrying a textual judgment.
func QAText(v string) QAValue {
	return QAValue{text: &v}
}

// IsZero reports whether no value was present.
func (v QAValue) IsZero() bool {
	return v.b == nil && v.text == nil
}

// Bool returns the boolean form, if that is how the value was encoded.
func (v QAValue) Bool() (bool, bool) {
	if v.b == nil {
		return false, false
	}
	return *v.b, true
}

// Text returns the textual form, if that is how the value was encoded.
func (v QAValue) Text() (string, bool) {
	if v.text == nil {
		return "", false
	}
	return *v.text, true
}

// MarshalJSON writes the value back in its original representation.
func (v QAValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.b != nil:
		return json.Marshal(*v.b)
	case v.text != nil:
		return json.Marshal(*v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts booleans, strings and numbers.
func (v *QAValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = QAValue{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("decode qa bool: %w", err)
		}
		v.b = &b
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode qa text: %w", err)
		}
		v.text = &s
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode qa value %s: %w", data, err)
		}
		s := n.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			s = strconv.FormatInt(int64(f), 10)
		}
		v.text = &s
	}
	return nil
}
