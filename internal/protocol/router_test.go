package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/hostmcp/internal/bridge"
	"github.com/teemow/hostmcp/internal/jsonrpc"
	"github.com/teemow/hostmcp/internal/session"
	"github.com/teemow/hostmcp/internal/tools"
)

// countingRegistry records Execute calls.
type countingRegistry struct {
	*tools.MemoryRegistry
	executed atomic.Int32
}

func (c *countingRegistry) Execute(ctx context.Context, name string, args map[string]string) (string, error) {
	c.executed.Add(1)
	return c.MemoryRegistry.Execute(ctx, name, args)
}

func (c *countingRegistry) ExecuteTyped(ctx context.Context, name string, args map[string]string) (tools.Result, error) {
	c.executed.Add(1)
	return c.MemoryRegistry.ExecuteTyped(ctx, name, args)
}

type fixture struct {
	router   *Router
	registry *countingRegistry
	sessions *session.Store
	loop     *bridge.Loop
}

func newFixture(t *testing.T, runLoop bool, timeout time.Duration) *fixture {
	t.Helper()

	mem := tools.NewMemoryRegistry()
	require.NoError(t, mem.Register(tools.Descriptor{
		Name:        "echo",
		Description: "Echoes text",
		Parameters: []tools.Parameter{
			{Name: "text", Type: tools.TypeString, Required: true},
			{Name: "tags", Type: tools.TypeArray},
		},
	}, func(_ context.Context, args map[string]string) (string, error) {
		return args["text"], nil
	}))
	require.NoError(t, mem.Register(tools.Descriptor{Name: "debug_dump", Internal: true},
		func(context.Context, map[string]string) (string, error) { return "secret", nil }))
	require.NoError(t, mem.Register(tools.Descriptor{Name: "fails"},
		func(context.Context, map[string]string) (string, error) { return `{"success":false,"error":"nope"}`, nil }))
	require.NoError(t, mem.Register(tools.Descriptor{Name: "explodes"},
		func(context.Context, map[string]string) (string, error) { panic("kaboom") }))
	require.NoError(t, mem.Register(tools.Descriptor{Name: "blocks"},
		func(ctx context.Context, _ map[string]string) (string, error) {
			time.Sleep(200 * time.Millisecond)
			return "late", nil
		}))

	reg := &countingRegistry{MemoryRegistry: mem}
	loop := bridge.NewLoop()
	if runLoop {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = loop.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	sessions := session.NewStore()
	router := NewRouter(reg, bridge.New(loop, bridge.WithTimeout(timeout)), sessions,
		WithServerInfo("hostmcp-test", "1.2.3"), WithListChanged(true))

	return &fixture{router: router, registry: reg, sessions: sessions, loop: loop}
}

func (f *fixture) call(t *testing.T, body string) (Outcome, map[string]json.RawMessage) {
	t.Helper()

	out := f.router.Handle(context.Background(), "", []byte(body))
	if out.Response == nil {
		return out, nil
	}
	encoded, err := out.Response.Encode()
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &envelope))
	return out, envelope
}

func errorCode(t *testing.T, envelope map[string]json.RawMessage) int {
	t.Helper()
	require.Contains(t, envelope, "error")
	var e jsonrpc.Error
	require.NoError(t, json.Unmarshal(envelope["error"], &e))
	return e.Code
}

func TestInitialize_Negotiation(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "latest", requested: `"2025-06-18"`, want: "2025-06-18"},
		{name: "older supported", requested: `"2024-11-05"`, want: "2024-11-05"},
		{name: "unsupported", requested: `"1999-01-01"`, want: "2025-06-18"},
		{name: "missing", requested: ``, want: "2025-06-18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false, time.Second)

			params := `{}`
			if tt.requested != "" {
				params = `{"protocolVersion":` + tt.requested + `}`
			}
			out, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":`+params+`}`)
			require.NotEmpty(t, out.SessionID)
			assert.True(t, f.sessions.Exists(out.SessionID))

			var result struct {
				ProtocolVersion string `json:"protocolVersion"`
				ServerInfo      struct {
					Name    string `json:"name"`
					Version string `json:"version"`
				} `json:"serverInfo"`
				Capabilities struct {
					Tools struct {
						ListChanged bool `json:"listChanged"`
					} `json:"tools"`
				} `json:"capabilities"`
				Instructions string `json:"instructions"`
			}
			require.NoError(t, json.Unmarshal(envelope["result"], &result))
			assert.Equal(t, tt.want, result.ProtocolVersion)
			assert.Equal(t, "hostmcp-test", result.ServerInfo.Name)
			assert.Equal(t, "1.2.3", result.ServerInfo.Version)
			assert.True(t, result.Capabilities.Tools.ListChanged)
			assert.NotEmpty(t, result.Instructions)
		})
	}
}

func TestInitialize_FreshSessionEachTime(t *testing.T) {
	f := newFixture(t, false, time.Second)
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`

	first, _ := f.call(t, body)
	second, _ := f.call(t, body)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, f.sessions.Len())

	firstSession, err := f.sessions.Get(first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-18", firstSession.ProtocolVersion)
}

func TestIDTyping(t *testing.T) {
	f := newFixture(t, false, time.Second)

	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	assert.Equal(t, `7`, string(envelope["id"]))

	_, envelope = f.call(t, `{"jsonrpc":"2.0","id":"abc","method":"ping"}`)
	assert.Equal(t, `"abc"`, string(envelope["id"]))
}

func TestToolsList_ExcludesInternal(t *testing.T) {
	f := newFixture(t, false, time.Second)

	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Properties map[string]map[string]any `json:"properties"`
				Required   []string                  `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(envelope["result"], &result))

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Name == "echo" {
			assert.Equal(t, []string{"text"}, tool.InputSchema.Required)
			assert.Contains(t, tool.InputSchema.Properties["tags"], "items")
		}
	}
	assert.Contains(t, names, "echo")
	assert.NotContains(t, names, "debug_dump")
}

func TestToolsCall_UnknownToolSkipsRegistry(t *testing.T) {
	f := newFixture(t, true, time.Second)

	for _, name := range []string{"missing", "debug_dump"} {
		_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"`+name+`"}}`)
		assert.Equal(t, jsonrpc.CodeInvalidParams, errorCode(t, envelope))
	}
	assert.Equal(t, int32(0), f.registry.executed.Load())
}

func TestToolsCall_InvalidParams(t *testing.T) {
	f := newFixture(t, true, time.Second)

	for _, params := range []string{``, `,"params":{}`, `,"params":[1]`, `,"params":{"name":"echo","arguments":[1]}`} {
		_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call"`+params+`}`)
		assert.Equal(t, jsonrpc.CodeInvalidParams, errorCode(t, envelope), "params %q", params)
	}
}

type callResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func TestToolsCall_Success(t *testing.T) {
	f := newFixture(t, true, time.Second)

	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"héllo ✓"}}}`)

	var result callResult
	require.NoError(t, json.Unmarshal(envelope["result"], &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "héllo ✓", result.Content[0].Text)
	assert.False(t, result.IsError)
	assert.Equal(t, int32(1), f.registry.executed.Load())
}

func TestToolsCall_ReportedError(t *testing.T) {
	f := newFixture(t, true, time.Second)

	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fails"}}`)
	require.NotContains(t, envelope, "error")

	var result callResult
	require.NoError(t, json.Unmarshal(envelope["result"], &result))
	assert.True(t, result.IsError)
}

func TestToolsCall_Panic(t *testing.T) {
	f := newFixture(t, true, time.Second)

	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"explodes"}}`)
	assert.Equal(t, jsonrpc.CodeServerError, errorCode(t, envelope))
}

func TestToolsCall_TimeoutModes(t *testing.T) {
	t.Run("never started", func(t *testing.T) {
		f := newFixture(t, false, 30*time.Millisecond)

		_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"x"}}}`)
		var e jsonrpc.Error
		require.NoError(t, json.Unmarshal(envelope["error"], &e))
		assert.Equal(t, jsonrpc.CodeServerError, e.Code)
		assert.Contains(t, e.Message, "timeout")
		assert.Contains(t, e.Message, "never started")
	})

	t.Run("still running", func(t *testing.T) {
		f := newFixture(t, true, 30*time.Millisecond)

		_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"blocks"}}`)
		var e jsonrpc.Error
		require.NoError(t, json.Unmarshal(envelope["error"], &e))
		assert.Equal(t, jsonrpc.CodeServerError, e.Code)
		assert.Contains(t, e.Message, "timeout")
		assert.Contains(t, e.Message, "did not finish")
	})
}

func TestPing_BypassesBridge(t *testing.T) {
	f := newFixture(t, false, time.Minute) // loop never runs

	start := time.Now()
	_, envelope := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.JSONEq(t, `{}`, string(envelope["result"]))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, f.loop.Pending())
}

func TestNotifications_NoResponse(t *testing.T) {
	f := newFixture(t, false, time.Second)

	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":3,"reason":"user"}}`,
		`{"jsonrpc":"2.0","method":"no/such/method"}`,
		`{"jsonrpc":"2.0","id":null,"method":"ping"}`,
	} {
		out, _ := f.call(t, body)
		assert.Nil(t, out.Response, body)
	}
}

func TestInitialize_WithoutIDCreatesNoSession(t *testing.T) {
	f := newFixture(t, false, time.Second)

	out, _ := f.call(t, `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
	assert.Nil(t, out.Response)
	assert.Empty(t, out.SessionID)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestCallNotStarted(t *testing.T) {
	f := newFixture(t, false, time.Second)

	req, rpcErr := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`))
	require.Nil(t, rpcErr)

	out := f.router.CallNotStarted(context.Background(), "", req, fmt.Errorf("queued: %w", bridge.ErrNeverStarted))
	require.NotNil(t, out.Response)
	require.NotNil(t, out.Response.Error)
	assert.Equal(t, jsonrpc.CodeServerError, out.Response.Error.Code)
	assert.Contains(t, out.Response.Error.Message, "never started")
	assert.Contains(t, out.Response.Error.Message, `"echo"`)
	assert.Equal(t, int32(0), f.registry.executed.Load())

	note, rpcErr := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo"}}`))
	require.Nil(t, rpcErr)
	assert.Nil(t, f.router.CallNotStarted(context.Background(), "", note, bridge.ErrNeverStarted).Response)
}

func TestErrors(t *testing.T) {
	f := newFixture(t, false, time.Second)

	tests := []struct {
		body string
		code int
	}{
		{body: `{not json`, code: jsonrpc.CodeParseError},
		{body: `{"id":1,"method":"ping"}`, code: jsonrpc.CodeInvalidRequest},
		{body: `{"jsonrpc":"2.0","id":1}`, code: jsonrpc.CodeInvalidRequest},
		{body: `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, code: jsonrpc.CodeMethodNotFound},
	}

	for _, tt := range tests {
		_, envelope := f.call(t, tt.body)
		assert.Equal(t, tt.code, errorCode(t, envelope), tt.body)
	}
}

func TestNegotiate(t *testing.T) {
	v, ok := Negotiate("2025-03-26")
	assert.True(t, ok)
	assert.Equal(t, "2025-03-26", v)

	v, ok = Negotiate("2099-01-01")
	assert.False(t, ok)
	assert.Equal(t, LatestProtocolVersion(), v)

	assert.True(t, IsSupported("2024-11-05"))
	assert.False(t, IsSupported(""))
	assert.True(t, UsesBridge(MethodToolsCall))
	assert.False(t, UsesBridge(MethodPing))
}
