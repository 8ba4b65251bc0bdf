package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidArguments is returned when call arguments are not a JSON object.
var ErrInvalidArguments = errors.New("arguments must be a JSON object")

// FlattenArguments converts wire arguments into the registry's string map.
//
// Strings are unquoted, null becomes "", and other scalars and arrays keep
// their compact JSON text. Objects keep their compact JSON under their own
// key and are also expanded into dotted keys, so a tool taking
// {"action":{"kind":"move","x":3}} can read "action.kind" and "action.x".
// Explicit top-level keys win over expanded ones.
func FlattenArguments(raw json.RawMessage) (map[string]string, error) {
	out := make(map[string]string)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}

	var fields map[string]json.RawMessage
	if trimmed[0] != '{' {
		return nil, ErrInvalidArguments
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	expanded := make(map[string]string)
	for key, value := range fields {
		text, err := scalarText(value)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %v", ErrInvalidArguments, key, err)
		}
		out[key] = text

		if isObject(value) {
			if err := expand(key, value, expanded); err != nil {
				return nil, fmt.Errorf("%w: argument %q: %v", ErrInvalidArguments, key, err)
			}
		}
	}

	for key, value := range expanded {
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	return out, nil
}

func expand(prefix string, raw json.RawMessage, into map[string]string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for key, value := range fields {
		path := prefix + "." + key
		text, err := scalarText(value)
		if err != nil {
			return err
		}
		into[path] = text
		if isObject(value) {
			if err := expand(path, value, into); err != nil {
				return err
			}
		}
	}
	return nil
}

func scalarText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return "", nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
