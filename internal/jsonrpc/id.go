package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

var errInvalidID = errors.New("id must be a string or a number")

// ID is a JSON-RPC request id. An id that parses as an integer is emitted as
// a JSON number, anything else as a JSON string. A number outside int64 or
// with a fraction or exponent keeps its original text. The zero value is an
// absent id, which marks a notification.
type ID struct {
	num     int64
	str     string
	numeric bool
	present bool
}

// numberID keeps a JSON number that does not fit an int64 verbatim.
func numberID(n json.Number) ID {
	if v, err := n.Int64(); err == nil {
		return IntID(v)
	}
	return ID{str: n.String(), numeric: true, present: true}
}

// IntID returns a numeric id.
func IntID(n int64) ID {
	return ID{num: n, numeric: true, present: true}
}

// StringID returns an id from s, numeric when s is an integer.
func StringID(s string) ID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntID(n)
	}
	return ID{str: s, present: true}
}

// Present reports whether the id was supplied and not null.
func (id ID) Present() bool { return id.present }

// IsNumeric reports whether the id is emitted as a number.
func (id ID) IsNumeric() bool { return id.present && id.numeric }

// String returns the id text, or "" when absent.
func (id ID) String() string {
	switch {
	case !id.present:
		return ""
	case id.numeric && id.str == "":
		return strconv.FormatInt(id.num, 10)
	default:
		return id.str
	}
}

// MarshalJSON emits a number, a string, or null for an absent id.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.present:
		return []byte("null"), nil
	case id.numeric && id.str != "":
		return []byte(id.str), nil
	case id.numeric:
		return strconv.AppendInt(nil, id.num, 10), nil
	default:
		return json.Marshal(id.str)
	}
}

// UnmarshalJSON accepts a string, a number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	parsed, err := parseID(data)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func parseID(raw json.RawMessage) (ID, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ID{}, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ID{}, err
		}
		return StringID(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return ID{}, err
		}
		return numberID(n), nil
	default:
		return ID{}, errInvalidID
	}
}
