package tools

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ClassifyResult guesses whether a raw tool result reports an error.
//
// JSON objects are checked for a boolean "success", then a boolean
// "isError", then a non-empty "error" member. Other text falls back to a
// substring match that ignores empty or null error values. This is a hint
// only; registries that know better implement TypedExecutor.
func ClassifyResult(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return classifyObject(fields)
		}
	}

	return sniffText(trimmed)
}

func classifyObject(fields map[string]json.RawMessage) bool {
	if raw, ok := fields["success"]; ok {
		var success bool
		if json.Unmarshal(raw, &success) == nil {
			return !success
		}
	}

	if raw, ok := fields["isError"]; ok {
		var isError bool
		if json.Unmarshal(raw, &isError) == nil {
			return isError
		}
	}

	if raw, ok := fields["error"]; ok {
		return !emptyJSON(raw)
	}
	return false
}

// emptyJSON reports whether raw is null, false, "" or an empty container.
func emptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", `""`, "{}", "[]":
		return true
	}
	return false
}

var emptyErrorMarkers = []string{
	`"error":""`,
	`"error": ""`,
	`"error":null`,
	`"error": null`,
}

func sniffText(text string) bool {
	lower := strings.ToLower(text)

	if strings.HasPrefix(lower, "error:") || strings.HasPrefix(lower, "error ") {
		return true
	}

	if strings.Contains(lower, `"error":`) || strings.Contains(lower, `"error" :`) {
		for _, marker := range emptyErrorMarkers {
			if strings.Contains(lower, marker) {
				return false
			}
		}
		return true
	}
	return false
}
