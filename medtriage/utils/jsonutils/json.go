package jsonutils

import (
	"encoding/json"
	"strings"
)

// ToJSON serializes a Go value to a JSON string with indentation.
// Returns an empty string if serialization fails.
func ToJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bytes))
}

// StripFences removes triple-backtick code fences that models sometimes wrap
// plain-text answers in, leaving the inner content untouched.
func StripFences(input string) string {
	s := strings.TrimSpace(input)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first != "" && !strings.ContainsAny(first, " \t") && len(first) <= 16 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
