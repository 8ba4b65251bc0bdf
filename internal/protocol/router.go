// Package protocol routes decoded JSON-RPC messages to the MCP method
// handlers: the initialize handshake, tool listing and invocation, ping and
// cancellation notices.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/hostmcp/internal/bridge"
	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/jsonrpc"
	"github.com/teemow/hostmcp/internal/logging"
	"github.com/teemow/hostmcp/internal/session"
	"github.com/teemow/hostmcp/internal/tools"
)

// Method names.
const (
	MethodInitialize               = "initialize"
	MethodInitialized              = "initialized"
	MethodNotificationsInitialized = "notifications/initialized"
	MethodToolsList                = "tools/list"
	MethodToolsCall                = "tools/call"
	MethodPing                     = "ping"
	MethodCancelled                = "notifications/cancelled"
	MethodToolsListChanged         = "notifications/tools/list_changed"
)

// Outcome labels for the RPC counter.
const (
	outcomeOK           = "ok"
	outcomeNotification = "notification"
)

const defaultInstructions = "Tools run on the host's primary loop one at a time. " +
	"Long operations may take up to the call timeout; use ping to check liveness meanwhile."

// Outcome is the result of dispatching one message.
type Outcome struct {
	// Response is nil when no reply is sent.
	Response *jsonrpc.Response

	// SessionID is set when the message created a session.
	SessionID string
}

// Router dispatches JSON-RPC requests.
type Router struct {
	registry     tools.Registry
	bridge       *bridge.Bridge
	sessions     *session.Store
	info         mcp.Implementation
	instructions string
	listChanged  bool

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithServerInfo sets the identity reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(r *Router) { r.info = mcp.Implementation{Name: name, Version: version} }
}

// WithInstructions overrides the instructions reported by initialize.
func WithInstructions(text string) Option {
	return func(r *Router) { r.instructions = text }
}

// WithListChanged advertises tool list change notifications.
func WithListChanged(enabled bool) Option {
	return func(r *Router) { r.listChanged = enabled }
}

// WithMetrics records per-method counters.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithAuditLogger logs calls that never reached the registry, such as
// bridge timeouts.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(r *Router) { r.audit = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router over the given collaborators.
func NewRouter(registry tools.Registry, b *bridge.Bridge, sessions *session.Store, opts ...Option) *Router {
	r := &Router{
		registry:     registry,
		bridge:       b,
		sessions:     sessions,
		info:         mcp.Implementation{Name: "hostmcp", Version: "dev"},
		instructions: defaultInstructions,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "router")
	return r
}

// UsesBridge reports whether method is dispatched through the execution
// bridge and may therefore block for up to the call timeout.
func UsesBridge(method string) bool {
	return method == MethodToolsCall
}

// Handle decodes body and dispatches it.
func (r *Router) Handle(ctx context.Context, sessionID string, body []byte) Outcome {
	req, rpcErr := jsonrpc.Decode(body)
	if rpcErr != nil {
		return r.Reject(req, rpcErr)
	}
	return r.Dispatch(ctx, sessionID, req)
}

// Reject answers a message that failed to decode. Parse errors and invalid
// requests are always answered, echoing the id when one was recovered.
func (r *Router) Reject(req *jsonrpc.Request, rpcErr *jsonrpc.Error) Outcome {
	var id jsonrpc.ID
	method := ""
	if req != nil {
		id = req.ID
		method = req.Method
	}
	r.metrics.RecordRPCRequest(context.Background(), method, strconv.Itoa(rpcErr.Code))
	r.logger.Debug("rejected message", logging.Method(method), "code", rpcErr.Code, "message", rpcErr.Message)
	return Outcome{Response: jsonrpc.NewErrorResponse(id, rpcErr)}
}

// Dispatch routes a decoded request. Notifications never produce a
// response, whatever the method.
func (r *Router) Dispatch(ctx context.Context, sessionID string, req *jsonrpc.Request) Outcome {
	if sessionID != "" {
		_ = r.sessions.Touch(sessionID)
	}

	ctx, span := instrumentation.StartSpan(ctx, "mcp."+instrumentation.NormalizeMethod(req.Method),
		instrumentation.NewSpanAttributeBuilder().WithMethod(req.Method).WithSession(sessionID).Build()...)
	defer span.End()

	var (
		result any
		out    Outcome
		err    error
	)

	switch req.Method {
	case MethodInitialize:
		if req.IsNotification() {
			// Nobody would learn the session id.
			err = jsonrpc.InvalidRequest("initialize must carry an id")
			break
		}
		result, out.SessionID, err = r.initialize(req.Params)
	case MethodInitialized, MethodNotificationsInitialized:
		result = struct{}{}
	case MethodToolsList:
		result = r.listTools()
	case MethodToolsCall:
		result, err = r.callTool(ctx, sessionID, req.Params)
	case MethodPing:
		result = struct{}{}
	case MethodCancelled:
		r.cancelled(sessionID, req.Params)
		result = struct{}{}
	default:
		err = jsonrpc.MethodNotFound(req.Method)
	}

	if req.IsNotification() {
		r.metrics.RecordRPCRequest(ctx, req.Method, outcomeNotification)
		if err != nil {
			r.logger.Debug("notification failed", logging.Method(req.Method), logging.Err(err))
		}
		return out
	}

	if err != nil {
		instrumentation.SetSpanError(span, err)
		rpcErr := jsonrpc.ErrorFrom(err)
		r.metrics.RecordRPCRequest(ctx, req.Method, strconv.Itoa(rpcErr.Code))
		out.Response = jsonrpc.NewErrorResponse(req.ID, rpcErr)
		return out
	}

	resp, encErr := jsonrpc.NewResult(req.ID, result)
	if encErr != nil {
		rpcErr := jsonrpc.InternalError(encErr.Error())
		r.metrics.RecordRPCRequest(ctx, req.Method, strconv.Itoa(rpcErr.Code))
		out.Response = jsonrpc.NewErrorResponse(req.ID, rpcErr)
		return out
	}

	instrumentation.SetSpanSuccess(span)
	r.metrics.RecordRPCRequest(ctx, req.Method, outcomeOK)
	out.Response = resp
	return out
}

func (r *Router) initialize(params json.RawMessage) (any, string, error) {
	var p mcp.InitializeParams
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, "", jsonrpc.InvalidParams(err.Error())
		}
	}

	version, matched := Negotiate(p.ProtocolVersion)
	if !matched {
		r.logger.Warn("client requested unsupported protocol version",
			"requested", p.ProtocolVersion,
			"answered", version,
			"supported", SupportedProtocolVersions,
		)
	}

	sess := r.sessions.Create(version)
	r.logger.Info("session initialized",
		logging.Session(sess.ID),
		"protocol_version", version,
		"client", p.ClientInfo.Name,
	)

	result := mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{ListChanged: r.listChanged},
		},
		ServerInfo:   r.info,
		Instructions: r.instructions,
	}
	return result, sess.ID, nil
}

func (r *Router) listTools() mcp.ListToolsResult {
	visible := tools.Visible(r.registry.ListEnabledTools())

	result := mcp.ListToolsResult{Tools: make([]mcp.Tool, 0, len(visible))}
	for _, d := range visible {
		result.Tools = append(result.Tools, d.Tool())
	}
	return result
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (r *Router) callTool(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p callParams
	if len(params) == 0 {
		return nil, jsonrpc.InvalidParams("missing params")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if p.Name == "" {
		return nil, jsonrpc.InvalidParams("missing tool name")
	}

	desc, ok := r.registry.FindTool(p.Name)
	if !ok || desc.Internal {
		return nil, jsonrpc.InvalidParams("unknown tool: " + p.Name)
	}

	args, err := tools.FlattenArguments(p.Arguments)
	if err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}

	var res tools.Result
	callCtx := tools.WithSession(ctx, sessionID)
	err = r.bridge.Invoke(callCtx, func(loopCtx context.Context) error {
		var execErr error
		res, execErr = tools.ExecuteTyped(tools.WithSession(loopCtx, sessionID), r.registry, p.Name, args)
		return execErr
	})
	if err != nil {
		return nil, r.callFailed(ctx, p.Name, sessionID, args, err)
	}

	result := mcp.NewToolResultText(res.Text)
	result.IsError = res.IsError
	return result, nil
}

// CallNotStarted answers a tools/call that never reached the primary loop,
// with the same message and accounting as a bridge stall. err should wrap
// bridge.ErrNeverStarted.
func (r *Router) CallNotStarted(ctx context.Context, sessionID string, req *jsonrpc.Request, err error) Outcome {
	var p callParams
	_ = json.Unmarshal(req.Params, &p)

	failure := r.callFailed(ctx, p.Name, sessionID, nil, err)
	if req.IsNotification() {
		return Outcome{}
	}
	return r.Reject(req, jsonrpc.ErrorFrom(failure))
}

// callFailed maps an execution failure to a server error naming its cause.
func (r *Router) callFailed(ctx context.Context, tool, sessionID string, args map[string]string, err error) error {
	inv := instrumentation.NewToolInvocation(tool).
		WithSession(sessionID).
		WithArguments(args).
		WithSpanContext(ctx)

	var message string
	switch {
	case errors.Is(err, bridge.ErrNeverStarted):
		inv.StallMode = instrumentation.StallNeverStarted
		message = fmt.Sprintf("Tool call timeout: %q was never started because the host's primary loop is stalled. Check that the host is responsive before retrying. (%v)", tool, err)
	case errors.Is(err, bridge.ErrStillRunning):
		inv.StallMode = instrumentation.StallStillRunning
		message = fmt.Sprintf("Tool call timeout: %q started but did not finish within %s. It may still complete on the host; retry once it is idle. (%v)", tool, r.bridge.Timeout(), err)
	case errors.Is(err, bridge.ErrPanic):
		message = fmt.Sprintf("Tool %q crashed: %v", tool, err)
	default:
		message = fmt.Sprintf("Tool %q failed: %v", tool, err)
	}

	// Calls that reached the registry were audited there.
	if inv.StallMode != "" {
		r.audit.LogToolInvocation(inv.CompleteWithError(err))
	}

	logging.WithOperation(r.logger, MethodToolsCall).Warn("tool call failed",
		logging.Tool(tool),
		logging.Session(sessionID),
		logging.Status(logging.StatusError),
		logging.Err(err))
	return jsonrpc.ServerError(message)
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason"`
}

// cancelled acknowledges a cancellation notice. In-flight work is not
// interrupted; the call timeout is what releases a blocked caller.
func (r *Router) cancelled(sessionID string, params json.RawMessage) {
	var p cancelledParams
	_ = json.Unmarshal(params, &p)

	r.logger.Info("cancellation acknowledged; in-flight work continues",
		logging.Session(sessionID),
		"request_id", string(p.RequestID),
		"reason", p.Reason,
	)
}
