package fetch

import (
	"strconv"
	"strings"
)

// Payload is a decoded upstream response. Non-object JSON is stored under
// "data"; undecodable text under "raw".
type Payload map[string]any

// Float reads a numeric field, accepting numbers and numeric strings with
// thousands separators such as "12,345".
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}

	return 0, false
}

// Int reads a numeric field truncated to an int.
func (p Payload) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	return int(f), ok
}

// String reads a string field.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Object reads a nested JSON object.
func (p Payload) Object(key string) (Payload, bool) {
	m, ok := p[key].(map[string]any)
	return Payload(m), ok
}

// Len returns the length of an array field, or 0.
func (p Payload) Len(key string) int {
	if arr, ok := p[key].([]any); ok {
		return len(arr)
	}

	return 0
}
