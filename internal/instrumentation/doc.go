// Package instrumentation provides OpenTelemetry instrumentation for the
// hostmcp protocol server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, JSON-RPC methods, tool calls and
//     the execution bridge
//   - Distributed tracing for tool invocations and bridge waits
//   - Prometheus metrics export via /metrics endpoint on a dedicated port
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of protocol sessions
//
// JSON-RPC Metrics:
//   - mcp_rpc_requests_total: Counter of JSON-RPC messages by method and outcome
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of tool execution durations
//
// Execution Bridge Metrics:
//   - bridge_wait_duration_seconds: Histogram of caller wait time by path (inline, queued)
//   - bridge_timeouts_total: Counter of bridge timeouts by stall mode
//
// SSE Metrics:
//   - sse_connections: Gauge of open event streams
//   - sse_events_total: Counter of events written
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - MCP tool invocations (tool.<name>)
//   - Execution bridge waits (bridge.invoke)
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: hostmcp)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordHTTPRequest(ctx, "POST", "/mcp", 200, time.Since(start))
//	recorder.RecordToolInvocation(ctx, "echo", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
