package tools

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTool is returned when a name does not match an enabled tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidDescriptor is returned for a descriptor without a name.
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
)

// Registry is the tool catalogue the server consumes.
type Registry interface {
	// ListEnabledTools returns every enabled tool, internal ones included.
	ListEnabledTools() []Descriptor

	// FindTool looks up an enabled tool by name.
	FindTool(name string) (Descriptor, bool)

	// Execute runs the tool and returns its raw text result.
	Execute(ctx context.Context, name string, args map[string]string) (string, error)
}

// Result is a tool result with an explicit error flag.
type Result struct {
	Text    string
	IsError bool
}

// TypedExecutor is implemented by registries that report application errors
// explicitly. When present, the result text is not sniffed.
type TypedExecutor interface {
	ExecuteTyped(ctx context.Context, name string, args map[string]string) (Result, error)
}

// ExecuteTyped runs a tool through reg, using TypedExecutor when reg
// implements it and ClassifyResult otherwise.
func ExecuteTyped(ctx context.Context, reg Registry, name string, args map[string]string) (Result, error) {
	if typed, ok := reg.(TypedExecutor); ok {
		return typed.ExecuteTyped(ctx, name, args)
	}

	text, err := reg.Execute(ctx, name, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, IsError: ClassifyResult(text)}, nil
}

type sessionKey struct{}

// WithSession attaches the calling session id to ctx.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the calling session id, if any.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
