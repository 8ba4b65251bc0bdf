package tools

import (
	"context"
	"time"

	"github.com/teemow/hostmcp/internal/instrumentation"
)

// ChangeNotifier is implemented by registries whose enabled set can change
// at runtime.
type ChangeNotifier interface {
	OnChange(fn func())
}

// InstrumentedRegistry wraps a Registry with metrics, tracing and audit
// logging. Lookups pass straight through.
type InstrumentedRegistry struct {
	next    Registry
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
}

// Instrument decorates reg. Both metrics and audit may be nil.
//
// Usage:
//
//	reg := tools.Instrument(memory, provider.Metrics(), auditLogger)
func Instrument(reg Registry, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) *InstrumentedRegistry {
	return &InstrumentedRegistry{next: reg, metrics: metrics, audit: audit}
}

// ListEnabledTools implements Registry.
func (r *InstrumentedRegistry) ListEnabledTools() []Descriptor {
	return r.next.ListEnabledTools()
}

// FindTool implements Registry.
func (r *InstrumentedRegistry) FindTool(name string) (Descriptor, bool) {
	return r.next.FindTool(name)
}

// Execute implements Registry.
func (r *InstrumentedRegistry) Execute(ctx context.Context, name string, args map[string]string) (string, error) {
	res, err := r.ExecuteTyped(ctx, name, args)
	return res.Text, err
}

// ExecuteTyped implements TypedExecutor.
func (r *InstrumentedRegistry) ExecuteTyped(ctx context.Context, name string, args map[string]string) (Result, error) {
	sessionID := SessionFromContext(ctx)

	spanCtx, span := instrumentation.StartToolSpan(ctx, name,
		instrumentation.NewSpanAttributeBuilder().WithSession(sessionID).Build()...)
	defer span.End()

	start := time.Now()
	invocation := instrumentation.NewToolInvocation(name).
		WithSession(sessionID).
		WithArguments(args).
		WithSpanContext(spanCtx)

	res, err := ExecuteTyped(spanCtx, r.next, name, args)
	duration := time.Since(start)

	status := instrumentation.StatusSuccess
	switch {
	case err != nil:
		status = instrumentation.StatusError
		invocation.CompleteWithError(err)
		instrumentation.SetSpanError(span, err)
	case res.IsError:
		status = instrumentation.StatusError
		invocation.Complete(false, nil)
		instrumentation.AddSpanEvent(span, "tool.reported_error")
	default:
		invocation.CompleteSuccess()
		instrumentation.SetSpanSuccess(span)
	}

	r.metrics.RecordToolInvocationWithSession(ctx, name, status, sessionID, duration)
	r.audit.LogToolInvocation(invocation)

	return res, err
}

// OnChange forwards to the wrapped registry when it supports change
// notifications.
func (r *InstrumentedRegistry) OnChange(fn func()) {
	if n, ok := r.next.(ChangeNotifier); ok {
		n.OnChange(fn)
	}
}
