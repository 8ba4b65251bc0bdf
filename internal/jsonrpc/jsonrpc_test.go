package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantCode     int
		method       string
		notification bool
	}{
		{name: "request", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, method: "ping"},
		{name: "notification", body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, method: "notifications/initialized", notification: true},
		{name: "null id is notification", body: `{"jsonrpc":"2.0","id":null,"method":"ping"}`, method: "ping", notification: true},
		{name: "malformed json", body: `{"jsonrpc":"2.0",`, wantCode: CodeParseError},
		{name: "empty body", body: ``, wantCode: CodeParseError},
		{name: "missing jsonrpc", body: `{"id":1,"method":"ping"}`, wantCode: CodeInvalidRequest},
		{name: "wrong jsonrpc", body: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantCode: CodeInvalidRequest},
		{name: "numeric jsonrpc", body: `{"jsonrpc":2.0,"id":1,"method":"ping"}`, wantCode: CodeInvalidRequest},
		{name: "missing method", body: `{"jsonrpc":"2.0","id":1}`, wantCode: CodeInvalidRequest},
		{name: "method not a string", body: `{"jsonrpc":"2.0","id":1,"method":7}`, wantCode: CodeInvalidRequest},
		{name: "batch array", body: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantCode: CodeInvalidRequest},
		{name: "object id", body: `{"jsonrpc":"2.0","id":{},"method":"ping"}`, wantCode: CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := Decode([]byte(tt.body))
			if tt.wantCode != 0 {
				require.NotNil(t, rpcErr)
				assert.Equal(t, tt.wantCode, rpcErr.Code)
				return
			}
			require.Nil(t, rpcErr)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.notification, req.IsNotification())
		})
	}
}

func TestDecode_KeepsIDOnInvalidRequest(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"1.0","id":"abc","method":"ping"}`))
	require.NotNil(t, rpcErr)
	require.NotNil(t, req)
	assert.Equal(t, "abc", req.ID.String())
}

func TestID_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "integer", raw: `42`, want: `42`},
		{name: "negative integer", raw: `-7`, want: `-7`},
		{name: "string", raw: `"req-1"`, want: `"req-1"`},
		{name: "integer looking string", raw: `"17"`, want: `17`},
		{name: "fraction", raw: `1.5`, want: `"1.5"`},
		{name: "uuid string", raw: `"5f0c2b0e-1d2c-4d8e-9a1b-1c2d3e4f5a6b"`, want: `"5f0c2b0e-1d2c-4d8e-9a1b-1c2d3e4f5a6b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := Decode([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":"ping"}`, tt.raw)))
			require.Nil(t, rpcErr)

			resp, err := NewResult(req.ID, map[string]any{})
			require.NoError(t, err)
			encoded, err := resp.Encode()
			require.NoError(t, err)

			var envelope map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(encoded, &envelope))
			assert.Equal(t, tt.want, string(envelope["id"]))
		})
	}
}

func TestID_AbsentMarshalsNull(t *testing.T) {
	encoded, err := NewErrorResponse(ID{}, ParseError("bad")).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error: bad"}}`, string(encoded))
}

func TestID_Unmarshal(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"9"`), &id))
	assert.True(t, id.IsNumeric())

	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestID_NonIntegerNumbersStayNumeric(t *testing.T) {
	for _, raw := range []string{`1.5`, `1e3`, `18446744073709551616`, `-0.25`} {
		t.Run(raw, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(raw), &id))
			assert.True(t, id.IsNumeric())
			assert.Equal(t, raw, id.String())

			encoded, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, raw, string(encoded))
		})
	}
}

func TestDecode_EchoesNumericIDVerbatim(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","id":1e3,"method":"ping"}`))
	require.Nil(t, rpcErr)

	resp, err := NewResult(req.ID, struct{}{})
	require.NoError(t, err)
	encoded, err := resp.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1e3,"result":{}}`, string(encoded))
}

func TestErrorFrom(t *testing.T) {
	rpcErr := InvalidParams("missing name")
	assert.Same(t, rpcErr, ErrorFrom(fmt.Errorf("wrapped: %w", rpcErr)))

	generic := ErrorFrom(errors.New("tool exploded"))
	assert.Equal(t, CodeServerError, generic.Code)
	assert.Equal(t, "tool exploded", generic.Message)

	assert.Nil(t, ErrorFrom(nil))
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, -32700, CodeParseError)
	assert.Equal(t, -32600, CodeInvalidRequest)
	assert.Equal(t, -32601, CodeMethodNotFound)
	assert.Equal(t, -32602, CodeInvalidParams)
	assert.Equal(t, -32603, CodeInternalError)
	assert.Equal(t, -32000, CodeServerError)
}

func TestEncodeNotification(t *testing.T) {
	encoded, err := EncodeNotification("notifications/tools/list_changed", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, string(encoded))
}
