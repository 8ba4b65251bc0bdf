package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/logging"
)

// DefaultCallTimeout bounds how long a caller waits for the primary loop.
const DefaultCallTimeout = 60 * time.Second

var (
	// ErrNeverStarted means the loop did not pick the task up in time.
	ErrNeverStarted = errors.New("the primary loop never started the call; the host may be stalled or blocked")

	// ErrStillRunning means the task started but did not finish in time.
	ErrStillRunning = errors.New("the call started on the primary loop but did not finish; retry later or raise the call timeout")

	// ErrPanic wraps a panic recovered from the invoked function.
	ErrPanic = errors.New("panic during execution")
)

// Slot states.
const (
	slotQueued int32 = iota
	slotRunning
	slotDone
	slotAbandoned
)

// slot carries one call's completion. It is recycled only after the caller
// has consumed the result, or after an abandoned task has finished with it.
type slot struct {
	state atomic.Int32
	done  chan struct{}
	err   error
}

func (s *slot) reset() {
	s.state.Store(slotQueued)
	s.err = nil
}

// Bridge runs functions on a Loop with a bounded wait.
type Bridge struct {
	loop    *Loop
	timeout time.Duration
	clock   clockwork.Clock
	slots   sync.Pool
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets the call timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithClock sets the clock used for the timeout.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bridge) { b.clock = clock }
}

// WithMetrics records wait durations and timeouts.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge onto loop.
func New(loop *Loop, opts ...Option) *Bridge {
	b := &Bridge{
		loop:    loop,
		timeout: DefaultCallTimeout,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	b.slots.New = func() any {
		return &slot{done: make(chan struct{}, 1)}
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.WithComponent(b.logger, "bridge")
	return b
}

// Loop returns the loop the bridge posts to.
func (b *Bridge) Loop() *Loop {
	return b.loop
}

// Timeout returns the call timeout.
func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

// Invoke runs fn on the primary loop and returns its error. The function
// receives a context bound to the loop, so nested Invoke calls run inline.
//
// Invoke returns within the call timeout. On timeout the error wraps
// ErrNeverStarted or ErrStillRunning; a task that was never started is
// skipped when the loop reaches it.
func (b *Bridge) Invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	start := b.clock.Now()

	if b.loop.Owns(ctx) {
		spanCtx, span := instrumentation.StartBridgeSpan(ctx, instrumentation.BridgePathInline)
		defer span.End()

		err := runGuarded(spanCtx, fn, b.logger)
		b.metrics.RecordBridgeWait(ctx, instrumentation.BridgePathInline, b.clock.Since(start))
		return err
	}

	_, span := instrumentation.StartBridgeSpan(ctx, instrumentation.BridgePathQueued)
	defer span.End()

	s := b.slots.Get().(*slot)
	b.loop.Post(func(loopCtx context.Context) {
		if !s.state.CompareAndSwap(slotQueued, slotRunning) {
			// Abandoned before it started.
			b.recycle(s)
			return
		}
		s.err = runGuarded(loopCtx, fn, b.logger)
		if !s.state.CompareAndSwap(slotRunning, slotDone) {
			// Abandoned while running; the caller is gone.
			b.recycle(s)
			return
		}
		s.done <- struct{}{}
	})

	timer := b.clock.NewTimer(b.timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-s.done:
		err := s.err
		b.recycle(s)
		b.metrics.RecordBridgeWait(ctx, instrumentation.BridgePathQueued, b.clock.Since(start))
		if err != nil {
			instrumentation.SetSpanError(span, err)
		}
		return err
	case <-timer.Chan():
		waitErr = fmt.Errorf("call timeout after %s", b.timeout)
	case <-ctx.Done():
		waitErr = fmt.Errorf("call abandoned: %w", ctx.Err())
	}

	stall, ok := b.abandon(s)
	if !ok {
		// The task completed while the wait was expiring.
		<-s.done
		err := s.err
		b.recycle(s)
		b.metrics.RecordBridgeWait(ctx, instrumentation.BridgePathQueued, b.clock.Since(start))
		return err
	}

	b.metrics.RecordBridgeWait(ctx, instrumentation.BridgePathQueued, b.clock.Since(start))
	b.metrics.RecordBridgeTimeout(ctx, stallLabel(stall))

	err := fmt.Errorf("%w: %w", waitErr, stall)
	instrumentation.AddSpanEvent(span, "bridge.abandoned")
	instrumentation.SetSpanError(span, err)

	b.logger.Warn("call abandoned on primary loop",
		"stall", stallLabel(stall),
		"pending", b.loop.Pending(),
		logging.Err(err),
	)
	return err
}

// abandon marks s abandoned and returns the stall mode, or ok=false if the
// task had already completed.
func (b *Bridge) abandon(s *slot) (stall error, ok bool) {
	for {
		switch state := s.state.Load(); state {
		case slotQueued:
			if s.state.CompareAndSwap(slotQueued, slotAbandoned) {
				return ErrNeverStarted, true
			}
		case slotRunning:
			if s.state.CompareAndSwap(slotRunning, slotAbandoned) {
				return ErrStillRunning, true
			}
		default:
			return nil, false
		}
	}
}

func (b *Bridge) recycle(s *slot) {
	s.reset()
	b.slots.Put(s)
}

func stallLabel(err error) string {
	if errors.Is(err, ErrNeverStarted) {
		return instrumentation.StallNeverStarted
	}
	return instrumentation.StallStillRunning
}

// runGuarded calls fn and converts a panic into an error.
func runGuarded(ctx context.Context, fn func(context.Context) error, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic in primary loop task",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}
