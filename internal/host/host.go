// Package host is a small embedding host for the MCP server. It owns a
// primary loop pinned to one OS thread, advances a frame counter on that
// loop, and registers demo tools whose state may only be touched there.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/hostmcp/internal/bridge"
	"github.com/teemow/hostmcp/internal/logging"
	"github.com/teemow/hostmcp/internal/tools"
)

// DefaultFrameInterval is roughly 60 frames per second.
const DefaultFrameInterval = 16 * time.Millisecond

// ErrOffLoop is returned by demo tools invoked outside the primary loop.
var ErrOffLoop = errors.New("must run on the primary loop")

// Host is a demo embedding application.
type Host struct {
	loop     *bridge.Loop
	registry *tools.MemoryRegistry

	clock         clockwork.Clock
	frameInterval time.Duration
	started       time.Time
	logger        *slog.Logger

	frames       atomic.Int64
	framePending atomic.Bool

	// props is only touched from the primary loop.
	props map[string]string
}

// Option configures a Host.
type Option func(*Host)

// WithFrameInterval sets the frame tick. Zero disables frames.
func WithFrameInterval(d time.Duration) Option {
	return func(h *Host) { h.frameInterval = d }
}

// WithClock sets the clock driving frames and uptime.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Host) { h.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a host with the demo tools registered.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		registry:      tools.NewMemoryRegistry(),
		clock:         clockwork.NewRealClock(),
		frameInterval: DefaultFrameInterval,
		logger:        slog.Default(),
		props:         map[string]string{"title": "untitled"},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.WithComponent(h.logger, "host")
	h.loop = bridge.NewLoop(bridge.WithLockedThread(), bridge.WithLoopLogger(h.logger))
	h.started = h.clock.Now()

	if err := h.registerTools(); err != nil {
		return nil, err
	}
	return h, nil
}

// Loop returns the primary loop.
func (h *Host) Loop() *bridge.Loop {
	return h.loop
}

// Registry returns the tool registry.
func (h *Host) Registry() *tools.MemoryRegistry {
	return h.registry
}

// Frames returns the number of frames run so far.
func (h *Host) Frames() int64 {
	return h.frames.Load()
}

// Run drives the primary loop and the frame ticker until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.loop.Run(ctx)
	})

	if h.frameInterval > 0 {
		g.Go(func() error {
			h.tick(ctx)
			return nil
		})
	}

	h.logger.Info("host running", "frame_interval", h.frameInterval)
	return g.Wait()
}

// tick posts one frame per interval. A frame is not posted while the
// previous one is still queued, so a stalled loop does not pile them up.
func (h *Host) tick(ctx context.Context) {
	ticker := h.clock.NewTicker(h.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !h.framePending.CompareAndSwap(false, true) {
				continue
			}
			h.loop.Post(func(context.Context) {
				h.frames.Add(1)
				h.framePending.Store(false)
			})
		}
	}
}
