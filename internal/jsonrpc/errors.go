package jsonrpc

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Standard JSON-RPC 2.0 error codes, plus the server-defined execution code.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR
	CodeServerError    = -32000
)

// Error is a JSON-RPC error object. It implements error so handlers can
// return protocol failures as values.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError returns an error with the given code.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ParseError reports a body that is not JSON.
func ParseError(detail string) *Error {
	return NewError(CodeParseError, "Parse error: %s", detail)
}

// InvalidRequest reports a JSON value that is not a valid request object.
func InvalidRequest(detail string) *Error {
	return NewError(CodeInvalidRequest, "Invalid Request: %s", detail)
}

// MethodNotFound reports an unknown method.
func MethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "Method not found: %s", method)
}

// InvalidParams reports bad method parameters.
func InvalidParams(detail string) *Error {
	return NewError(CodeInvalidParams, "Invalid params: %s", detail)
}

// InternalError reports a failure to produce a response.
func InternalError(detail string) *Error {
	return NewError(CodeInternalError, "Internal error: %s", detail)
}

// ServerError reports an execution failure.
func ServerError(detail string) *Error {
	return &Error{Code: CodeServerError, Message: detail}
}

// ErrorFrom converts err into a JSON-RPC error. A wrapped *Error is returned
// as is; anything else becomes a server error carrying err's message.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return ServerError(err.Error())
}
