package trace

import (
	"fmt"
	"strings"
)

const (
	// RedactedValue replaces any value stored under a sensitive key.
	RedactedValue = "[REDACTED]"

	// maxStringLen is the longest string preserved verbatim in event
	// payloads; anything longer is cut and marked.
	maxStringLen = 1000

	truncationMarker = "...[truncated]"
)

// sensitiveKeySubstrings flag a key as sensitive when its lowercased
// name contains any of them.
var sensitiveKeySubstrings = []string{
	"password",
	"secret",
	"token",
	"key",
	"auth",
	"credential",
	"private",
	"confidential",
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v safe to store in the trace: strings over
// the length cap are truncated with a marker, values under sensitive
// keys are replaced wholesale, and nested maps and slices are walked
// recursively. The input is never modified.
func Redact(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return truncate(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if sensitiveKey(k) {
				out[k] = RedactedValue
				continue
			}
			out[k] = Redact(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	case bool, int, int32, int64, float32, float64:
		return val
	default:
		// Anything else is flattened to its string form so event
		// payloads stay plain data.
		return truncate(fmt.Sprintf("%v", val))
	}
}

// RedactMap applies Redact to every entry of a payload map.
func RedactMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out, _ := Redact(data).(map[string]any)
	return out
}

func truncate(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + truncationMarker
}
