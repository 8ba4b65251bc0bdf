package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrOutcome = "outcome"
	attrTool    = "tool"
	attrSession = "session"
	attrBridge  = "bridge_path"
	attrStall   = "stall"
)

// Metrics provides methods for recording observability metrics.
// The zero value is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// JSON-RPC metrics
	rpcRequestsTotal metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// Execution bridge metrics
	bridgeWaitDuration metric.Float64Histogram
	bridgeTimeouts     metric.Int64Counter

	// SSE metrics
	sseConnections metric.Int64UpDownCounter
	sseEventsTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active protocol sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.rpcRequestsTotal, err = meter.Int64Counter(
		"mcp_rpc_requests_total",
		metric.WithDescription("Total number of JSON-RPC messages handled"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_rpc_requests_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	m.bridgeWaitDuration, err = meter.Float64Histogram(
		"bridge_wait_duration_seconds",
		metric.WithDescription("Time a caller spent waiting on the primary loop"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge_wait_duration_seconds histogram: %w", err)
	}

	m.bridgeTimeouts, err = meter.Int64Counter(
		"bridge_timeouts_total",
		metric.WithDescription("Total number of execution bridge timeouts by stall mode"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge_timeouts_total counter: %w", err)
	}

	m.sseConnections, err = meter.Int64UpDownCounter(
		"sse_connections",
		metric.WithDescription("Number of open server-sent event streams"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sse_connections gauge: %w", err)
	}

	m.sseEventsTotal, err = meter.Int64Counter(
		"sse_events_total",
		metric.WithDescription("Total number of server-sent events written"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sse_events_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRPCRequest records one JSON-RPC message. The method is normalized
// through NormalizeMethod so arbitrary client input cannot grow the label set.
// Outcome is "ok", "notification", or the JSON-RPC error code.
func (m *Metrics) RecordRPCRequest(ctx context.Context, method, outcome string) {
	if m == nil || m.rpcRequestsTotal == nil {
		return
	}

	m.rpcRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, NormalizeMethod(method)),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithSession(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithSession records an MCP tool invocation and, when
// detailed labels are enabled, the short session id of the caller.
func (m *Metrics) RecordToolInvocationWithSession(ctx context.Context, toolName, status, sessionID string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && sessionID != "" {
		attrs = append(attrs, attribute.String(attrSession, ShortSession(sessionID)))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBridgeWait records how long a caller waited for the primary loop.
// Path is BridgePathInline or BridgePathQueued.
func (m *Metrics) RecordBridgeWait(ctx context.Context, path string, duration time.Duration) {
	if m == nil || m.bridgeWaitDuration == nil {
		return
	}

	m.bridgeWaitDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrBridge, path),
	))
}

// RecordBridgeTimeout records a bridge timeout. Stall is StallNeverStarted or
// StallStillRunning.
func (m *Metrics) RecordBridgeTimeout(ctx context.Context, stall string) {
	if m == nil || m.bridgeTimeouts == nil {
		return
	}

	m.bridgeTimeouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrStall, stall),
	))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}

// SSEConnectionOpened increments the open stream gauge.
func (m *Metrics) SSEConnectionOpened(ctx context.Context) {
	if m == nil || m.sseConnections == nil {
		return
	}

	m.sseConnections.Add(ctx, 1)
}

// SSEConnectionClosed decrements the open stream gauge.
func (m *Metrics) SSEConnectionClosed(ctx context.Context) {
	if m == nil || m.sseConnections == nil {
		return
	}

	m.sseConnections.Add(ctx, -1)
}

// RecordSSEEvent counts one written event.
func (m *Metrics) RecordSSEEvent(ctx context.Context) {
	if m == nil || m.sseEventsTotal == nil {
		return
	}

	m.sseEventsTotal.Add(ctx, 1)
}
