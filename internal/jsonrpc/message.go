package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only accepted value of the jsonrpc member.
const Version = mcp.JSONRPC_VERSION

// Request is a decoded request or notification.
type Request struct {
	JSONRPC string
	ID      ID
	Method  string
	Params  json.RawMessage
}

// IsNotification reports whether no reply is expected.
func (r *Request) IsNotification() bool {
	return !r.ID.Present()
}

// Decode parses one JSON-RPC message. On failure it still returns whatever
// request could be recovered, so an error reply can echo the id.
func Decode(data []byte) (*Request, *Error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, ParseError("body is not valid JSON")
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, InvalidRequest("expected a single request object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, InvalidRequest(err.Error())
	}

	req := &Request{Params: fields["params"]}

	if rawID, ok := fields["id"]; ok {
		id, err := parseID(rawID)
		if err != nil {
			return req, InvalidRequest(err.Error())
		}
		req.ID = id
	}

	rawVersion, ok := fields["jsonrpc"]
	if !ok {
		return req, InvalidRequest("missing jsonrpc member")
	}
	if err := json.Unmarshal(rawVersion, &req.JSONRPC); err != nil || req.JSONRPC != Version {
		return req, InvalidRequest(fmt.Sprintf("jsonrpc must be %q", Version))
	}

	rawMethod, ok := fields["method"]
	if !ok {
		return req, InvalidRequest("missing method member")
	}
	if err := json.Unmarshal(rawMethod, &req.Method); err != nil || req.Method == "" {
		return req, InvalidRequest("method must be a non-empty string")
	}

	return req, nil
}

// Response is an outgoing reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult marshals result into a success response.
func NewResult(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// Encode serializes the response.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Notification is a server-initiated message without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// EncodeNotification serializes a notification for method.
func EncodeNotification(method string, params any) ([]byte, error) {
	return json.Marshal(Notification{JSONRPC: Version, Method: method, Params: params})
}
