package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, detailedLabels bool) (context.Context, *Provider) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
		DetailedLabels:  detailedLabels,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return ctx, provider
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx, provider := newTestProvider(t, false)

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/mcp", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "POST", "/mcp", 500, 50*time.Millisecond)
}

func TestMetrics_RecordRPCRequest(t *testing.T) {
	ctx, provider := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.RecordRPCRequest(ctx, "tools/call", "ok")
	metrics.RecordRPCRequest(ctx, "bogus/method", "-32601")
	metrics.RecordRPCRequest(ctx, "notifications/initialized", "notification")
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	ctx, provider := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.RecordToolInvocation(ctx, "echo", StatusSuccess, 300*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "sleep", StatusError, 100*time.Millisecond)
}

func TestMetrics_RecordToolInvocationWithSession_DetailedLabels(t *testing.T) {
	ctx, provider := newTestProvider(t, true)
	metrics := provider.Metrics()

	if !metrics.detailedLabels {
		t.Error("expected detailed labels to be enabled")
	}

	metrics.RecordToolInvocationWithSession(ctx, "echo", StatusSuccess, "3f2a9c1e-0000-4000-8000-000000000000", 10*time.Millisecond)
	metrics.RecordToolInvocationWithSession(ctx, "echo", StatusSuccess, "", 10*time.Millisecond)
}

func TestMetrics_Bridge(t *testing.T) {
	ctx, provider := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.RecordBridgeWait(ctx, BridgePathInline, time.Microsecond)
	metrics.RecordBridgeWait(ctx, BridgePathQueued, 5*time.Millisecond)
	metrics.RecordBridgeTimeout(ctx, StallNeverStarted)
	metrics.RecordBridgeTimeout(ctx, StallStillRunning)
}

func TestMetrics_SessionsAndStreams(t *testing.T) {
	ctx, provider := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.IncrementActiveSessions(ctx)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)

	metrics.SSEConnectionOpened(ctx)
	metrics.RecordSSEEvent(ctx)
	metrics.SSEConnectionClosed(ctx)
}

func TestMetrics_NoOp_WhenDisabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	metrics := provider.Metrics()

	// All operations should be no-ops and not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/mcp", 200, 100*time.Millisecond)
	metrics.RecordRPCRequest(ctx, "ping", "ok")
	metrics.RecordToolInvocation(ctx, "echo", StatusSuccess, 300*time.Millisecond)
	metrics.RecordBridgeWait(ctx, BridgePathQueued, time.Millisecond)
	metrics.RecordBridgeTimeout(ctx, StallStillRunning)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
	metrics.SSEConnectionOpened(ctx)
	metrics.RecordSSEEvent(ctx)
	metrics.SSEConnectionClosed(ctx)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	ctx := context.Background()

	metrics.RecordRPCRequest(ctx, "ping", "ok")
	metrics.RecordBridgeTimeout(ctx, StallNeverStarted)
	metrics.IncrementActiveSessions(ctx)
}
