package bridge

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/teemow/hostmcp/internal/logging"
)

// ErrLoopRunning is returned by Run when the loop is already being run.
var ErrLoopRunning = errors.New("primary loop already running")

type loopKey struct{}

// Loop is the host's primary execution context.
type Loop struct {
	mu    sync.Mutex
	queue []func(context.Context)
	wake  chan struct{}

	lockOSThread bool
	running      atomic.Bool
	logger       *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLockedThread pins Run to its OS thread for hosts whose primary context
// must stay on one thread.
func WithLockedThread() LoopOption {
	return func(l *Loop) { l.lockOSThread = true }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates an idle loop. Nothing runs until Run or Pump is called.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.WithComponent(l.logger, "primary_loop")
	return l
}

// Post enqueues fn. It never blocks and is safe from any goroutine.
func (l *Loop) Post(fn func(context.Context)) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Bind marks ctx as running on this loop. Bridge calls made with the
// returned context execute inline.
func (l *Loop) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopKey{}, l)
}

// Owns reports whether ctx was bound to this loop.
func (l *Loop) Owns(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run drains the queue on the calling goroutine until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.logger.Debug("primary loop started", "locked_thread", l.lockOSThread)
	defer l.logger.Debug("primary loop stopped")

	loopCtx := l.Bind(ctx)
	for {
		l.drain(loopCtx)

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Pump runs the tasks queued at the time of the call and returns how many
// ran. Hosts with their own frame loop call it once per frame instead of Run.
func (l *Loop) Pump(ctx context.Context) int {
	return l.drain(l.Bind(ctx))
}

func (l *Loop) drain(ctx context.Context) int {
	l.mu.Lock()
	tasks := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn(ctx)
	}
	return len(tasks)
}
