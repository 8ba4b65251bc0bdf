package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/logging"
)

// DefaultWriteTimeout bounds a single write to a stream.
const DefaultWriteTimeout = 5 * time.Second

// ErrClosed is returned when writing to a stream that is no longer active.
var ErrClosed = errors.New("sse stream closed")

// Conn is an open event stream.
type Conn struct {
	ID          string
	SessionID   string
	RemoteAddr  string
	ConnectedAt time.Time
	LastEventID int64

	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	active       atomic.Bool
}

// Active reports whether the stream is still writable.
func (c *Conn) Active() bool {
	return c.active.Load()
}

func (c *Conn) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(p); err != nil {
		c.closeLocked()
		return fmt.Errorf("failed to write to stream %s: %w", c.ID, err)
	}
	return nil
}

func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() bool {
	if !c.active.CompareAndSwap(true, false) {
		return false
	}
	_ = c.conn.Close()
	return true
}

// Registry tracks open streams. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn

	clock        clockwork.Clock
	retry        time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *instrumentation.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for connection timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithRetry sets the advertised reconnection delay.
func WithRetry(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retry = d
		}
	}
}

// WithWriteTimeout bounds writes to a stream.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) { r.writeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records stream gauges and event counts.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:        make(map[string]*Conn),
		clock:        clockwork.NewRealClock(),
		retry:        DefaultRetry,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "sse")
	return r
}

// Open takes ownership of conn and turns it into an event stream. It writes
// the response head, a priming event and the retry hint in one write. The
// caller must not use conn afterwards; on error conn has been closed.
func (r *Registry) Open(conn net.Conn, sessionID string, lastEventID int64, header http.Header) (*Conn, error) {
	c := &Conn{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		RemoteAddr:   conn.RemoteAddr().String(),
		ConnectedAt:  r.clock.Now(),
		LastEventID:  lastEventID,
		conn:         conn,
		writeTimeout: r.writeTimeout,
	}
	c.active.Store(true)

	head := StreamHeader()
	for k, vs := range header {
		for _, v := range vs {
			head.Header.Add(k, v)
		}
	}

	var b bytes.Buffer
	b.Write(head.Encode())
	b.Write(Event{ID: NextEventID()}.Encode())
	b.WriteString("retry: " + strconv.FormatInt(r.retry.Milliseconds(), 10) + "\n\n")

	if err := c.write(b.Bytes()); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	r.metrics.SSEConnectionOpened(context.Background())
	r.logger.Info("stream opened",
		"stream", c.ID,
		logging.Session(sessionID),
		logging.RemoteAddr(c.RemoteAddr),
		"last_event_id", lastEventID,
	)
	return c, nil
}

// Send delivers data as one event to every stream bound to sessionID and
// returns the number of streams reached.
func (r *Registry) Send(sessionID, data string) int {
	return r.deliver(data, func(c *Conn) bool { return c.SessionID == sessionID })
}

// Broadcast delivers data as one event to every stream.
func (r *Registry) Broadcast(data string) int {
	return r.deliver(data, func(*Conn) bool { return true })
}

func (r *Registry) deliver(data string, match func(*Conn) bool) int {
	targets := r.snapshot(match)
	if len(targets) == 0 {
		return 0
	}

	ev := NewEvent(data)
	frame := ev.Encode()

	delivered := 0
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			r.logger.Debug("event not delivered", "stream", c.ID, logging.EventID(ev.ID), logging.Err(err))
			continue
		}
		delivered++
		r.metrics.RecordSSEEvent(context.Background())
	}
	return delivered
}

// Sweep probes every stream with a keepalive comment and forgets the ones
// that are no longer writable. It returns the number removed.
func (r *Registry) Sweep() int {
	for _, c := range r.snapshot(func(*Conn) bool { return true }) {
		_ = c.write(Comment("keepalive"))
	}

	r.mu.Lock()
	var dead []*Conn
	for id, c := range r.conns {
		if !c.Active() {
			dead = append(dead, c)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, c := range dead {
		r.metrics.SSEConnectionClosed(context.Background())
		r.logger.Debug("stream swept", "stream", c.ID, logging.Session(c.SessionID))
	}
	return len(dead)
}

// CloseSession closes every stream bound to sessionID.
func (r *Registry) CloseSession(sessionID string) int {
	return r.closeMatching(func(c *Conn) bool { return c.SessionID == sessionID })
}

// CloseAll closes every stream. It is called on shutdown.
func (r *Registry) CloseAll() int {
	return r.closeMatching(func(*Conn) bool { return true })
}

func (r *Registry) closeMatching(match func(*Conn) bool) int {
	r.mu.Lock()
	var closing []*Conn
	for id, c := range r.conns {
		if match(c) {
			closing = append(closing, c)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, c := range closing {
		c.close()
		r.metrics.SSEConnectionClosed(context.Background())
	}
	return len(closing)
}

// Len returns the number of tracked streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) snapshot(match func(*Conn) bool) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}
