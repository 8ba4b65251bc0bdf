package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, args map[string]string) (string, error) {
	return args["text"], nil
}

func TestMemoryRegistry_RegisterAndExecute(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "echo"}, echoHandler))

	desc, ok := reg.FindTool("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", desc.Name)

	text, err := reg.Execute(context.Background(), "echo", map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestMemoryRegistry_Errors(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "echo"}, echoHandler))

	assert.ErrorIs(t, reg.Register(Descriptor{Name: "echo"}, echoHandler), ErrDuplicateTool)
	assert.ErrorIs(t, reg.Register(Descriptor{}, echoHandler), ErrInvalidDescriptor)
	assert.ErrorIs(t, reg.Register(Descriptor{Name: "nil"}, nil), ErrInvalidDescriptor)

	_, err := reg.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.ErrorIs(t, reg.SetEnabled("missing", false), ErrUnknownTool)
}

func TestMemoryRegistry_EnableDisable(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "a"}, echoHandler))
	require.NoError(t, reg.Register(Descriptor{Name: "b"}, echoHandler))

	require.NoError(t, reg.SetEnabled("a", false))

	list := reg.ListEnabledTools()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Name)

	_, ok := reg.FindTool("a")
	assert.False(t, ok)

	_, err := reg.Execute(context.Background(), "a", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestMemoryRegistry_OrderAndUnregister(t *testing.T) {
	reg := NewMemoryRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, reg.Register(Descriptor{Name: name}, echoHandler))
	}

	assert.True(t, reg.Unregister("a"))
	assert.False(t, reg.Unregister("a"))

	var names []string
	for _, d := range reg.ListEnabledTools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"c", "b"}, names)
}

func TestMemoryRegistry_OnChange(t *testing.T) {
	reg := NewMemoryRegistry()
	changes := 0
	reg.OnChange(func() { changes++ })

	require.NoError(t, reg.Register(Descriptor{Name: "a"}, echoHandler))
	require.NoError(t, reg.SetEnabled("a", false))
	require.NoError(t, reg.SetEnabled("a", false)) // no change
	reg.Unregister("a")

	assert.Equal(t, 3, changes)
}

func TestMemoryRegistry_ExecuteTyped(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "sniffed"}, func(context.Context, map[string]string) (string, error) {
		return `{"success":false,"error":"no such object"}`, nil
	}))
	require.NoError(t, reg.RegisterTyped(Descriptor{Name: "typed"}, func(context.Context, map[string]string) (Result, error) {
		// Would be sniffed as an error, but the handler says otherwise.
		return Result{Text: "error: count is 0"}, nil
	}))

	res, err := ExecuteTyped(context.Background(), reg, "sniffed", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = ExecuteTyped(context.Background(), reg, "typed", nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

type plainRegistry struct{ text string }

func (p plainRegistry) ListEnabledTools() []Descriptor { return nil }
func (p plainRegistry) FindTool(string) (Descriptor, bool) {
	return Descriptor{}, false
}
func (p plainRegistry) Execute(context.Context, string, map[string]string) (string, error) {
	if p.text == "" {
		return "", errors.New("failed")
	}
	return p.text, nil
}

func TestExecuteTyped_FallsBackToSniff(t *testing.T) {
	res, err := ExecuteTyped(context.Background(), plainRegistry{text: `{"isError":true}`}, "x", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = ExecuteTyped(context.Background(), plainRegistry{}, "x", nil)
	assert.Error(t, err)
}

func TestSessionContext(t *testing.T) {
	ctx := WithSession(context.Background(), "abc")
	assert.Equal(t, "abc", SessionFromContext(ctx))
	assert.Empty(t, SessionFromContext(context.Background()))
}
