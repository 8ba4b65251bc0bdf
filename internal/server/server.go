// Package server owns the MCP listener: it accepts loopback connections,
// frames one request at a time, runs the security gate and hands JSON-RPC
// traffic to the protocol router. Tool calls are handed to a tracked worker
// so the listener keeps answering pings while a call waits on the primary
// loop.
//
// Lifecycle: Stopped, Starting, Running, Stopping, then Stopped again.
// Start and Stop are idempotent.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/teemow/hostmcp/internal/bridge"
	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/jsonrpc"
	"github.com/teemow/hostmcp/internal/logging"
	"github.com/teemow/hostmcp/internal/protocol"
	"github.com/teemow/hostmcp/internal/security"
	"github.com/teemow/hostmcp/internal/session"
	"github.com/teemow/hostmcp/internal/sse"
	"github.com/teemow/hostmcp/internal/tools"
	"github.com/teemow/hostmcp/internal/transport"
)

// Defaults.
const (
	DefaultAddr          = "127.0.0.1:8765"
	DefaultPath          = "/mcp"
	DefaultSweepInterval = 30 * time.Second
)

// ErrNotLoopback is returned for a listen address that is not loopback.
var ErrNotLoopback = errors.New("listen address must be loopback")

// ErrNotRunning is returned by Start while a previous Stop is in progress.
var ErrNotRunning = errors.New("server is stopping")

// State is the lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config configures a Server.
type Config struct {
	// Addr is the loopback listen address. Port 0 picks a free port.
	Addr string

	// Path is the MCP endpoint path.
	Path string

	// APIKey, when set, is required on every MCP request.
	APIKey string

	// AllowedOrigins extends the built-in local origins.
	AllowedOrigins []string

	CallTimeout   time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Read bounds request framing. Zero values use the transport defaults.
	Read transport.ReadOptions

	ServerName    string
	ServerVersion string
	Instructions  string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = bridge.DefaultCallTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ServerName == "" {
		c.ServerName = "hostmcp"
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "dev"
	}
	return c
}

// Server is the MCP listener.
type Server struct {
	cfg Config

	sessions *session.Store
	streams  *sse.Registry
	gate     *security.Gate
	bridge   *bridge.Bridge
	router   *protocol.Router
	health   *HealthChecker

	clock   clockwork.Clock
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup

	// reading is the connection the listener is framing, if any. Stop
	// closes it so a silent client cannot hold up shutdown.
	reading net.Conn

	// calls tracks tool call workers; callSlot admits one at a time.
	calls    *conc.WaitGroup
	callSlot *semaphore.Weighted
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for housekeeping and timeouts.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithMetrics records HTTP, RPC, bridge, session and stream metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAuditLogger audits tool invocations.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(s *Server) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wires a server over registry and the host's primary loop. The server
// does not start the loop; the host owns it.
func New(cfg Config, registry tools.Registry, loop *bridge.Loop, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := requireLoopback(cfg.Addr); err != nil {
		return nil, err
	}
	if registry == nil || loop == nil {
		return nil, fmt.Errorf("registry and loop are required")
	}

	s := &Server{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		calls:    conc.NewWaitGroup(),
		callSlot: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "server")

	s.sessions = session.NewStore(
		session.WithClock(s.clock),
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	)
	s.streams = sse.NewRegistry(
		sse.WithClock(s.clock),
		sse.WithLogger(s.logger),
		sse.WithMetrics(s.metrics),
	)
	s.gate = security.NewGate(
		security.WithAPIKey(cfg.APIKey),
		security.WithAllowedOrigins(cfg.AllowedOrigins...),
		security.WithLogger(s.logger),
	)
	s.bridge = bridge.New(loop,
		bridge.WithTimeout(cfg.CallTimeout),
		bridge.WithClock(s.clock),
		bridge.WithMetrics(s.metrics),
		bridge.WithLogger(s.logger),
	)

	notifier, listChanged := registry.(tools.ChangeNotifier)
	if s.metrics != nil || s.audit != nil {
		registry = tools.Instrument(registry, s.metrics, s.audit)
	}

	routerOpts := []protocol.Option{
		protocol.WithServerInfo(cfg.ServerName, cfg.ServerVersion),
		protocol.WithListChanged(listChanged),
		protocol.WithMetrics(s.metrics),
		protocol.WithAuditLogger(s.audit),
		protocol.WithLogger(s.logger),
	}
	if cfg.Instructions != "" {
		routerOpts = append(routerOpts, protocol.WithInstructions(cfg.Instructions))
	}
	s.router = protocol.NewRouter(registry, s.bridge, s.sessions, routerOpts...)

	s.health = NewHealthChecker(s.clock, s.shuttingDown, s.stats)

	if listChanged {
		notifier.OnChange(s.toolsChanged)
	}
	return s, nil
}

// requireLoopback rejects wildcard and non-loopback listen addresses.
func requireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrNotLoopback, addr)
	}
	return nil
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound address while running, nil otherwise.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the MCP endpoint URL while running.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String() + s.cfg.Path
}

// Sessions exposes the session store.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}

// Streams exposes the SSE registry.
func (s *Server) Streams() *sse.Registry {
	return s.streams
}

// Gate exposes the security gate, e.g. to rotate the API key.
func (s *Server) Gate() *security.Gate {
	return s.gate
}

// Start binds the listener and starts the accept loop and housekeeping.
// Calling Start on a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		switch s.State() {
		case StateRunning, StateStarting:
			return nil
		default:
			return ErrNotRunning
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.listener = ln
	s.ctx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.loops.Add(2)
	go s.acceptLoop(runCtx, ln)
	go s.housekeeping(runCtx)

	s.state.Store(int32(StateRunning))
	s.health.SetReady(true)

	s.logger.Info("MCP server listening",
		"addr", ln.Addr().String(),
		"path", s.cfg.Path,
		"api_key", s.gate.RequiresKey(),
		"call_timeout", s.cfg.CallTimeout,
	)
	return nil
}

// Stop closes the listener, waits for the accept loop and in-flight call
// workers, then closes every session and stream. Calling Stop on a stopped
// server is a no-op. ctx bounds the wait for call workers.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	s.health.SetReady(false)

	s.mu.Lock()
	ln, cancel := s.listener, s.cancel
	s.mu.Unlock()

	cancel()

	s.mu.Lock()
	if s.reading != nil {
		_ = s.reading.Close()
	}
	s.mu.Unlock()

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("failed to close listener: %w", err))
	}
	s.loops.Wait()

	drained := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("tool call workers still running: %w", ctx.Err()))
	}

	streams := s.streams.CloseAll()
	sessions := s.sessions.CloseAll()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))

	s.logger.Info("MCP server stopped", "closed_sessions", sessions, "closed_streams", streams)
	return errors.Join(errs...)
}

func (s *Server) shuttingDown() bool {
	st := s.State()
	return st == StateStopping || st == StateStopped
}

func (s *Server) stats() HealthStats {
	loop := s.bridge.Loop()
	return HealthStats{
		Sessions:     s.sessions.Len(),
		Streams:      s.streams.Len(),
		PendingTasks: loop.Pending(),
		LoopRunning:  loop.Running(),
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.loops.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(50 * time.Millisecond):
			}
			continue
		}
		s.handleConn(ctx, conn)
	}
}

// housekeeping sweeps dead streams and expired sessions on a fixed tick.
func (s *Server) housekeeping(ctx context.Context) {
	defer s.loops.Done()

	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	streams := s.streams.Sweep()
	sessions := s.sessions.Sweep()
	if streams > 0 || sessions > 0 {
		s.logger.Debug("housekeeping", "swept_streams", streams, "expired_sessions", sessions)
	}
}

func (s *Server) toolsChanged() {
	if s.State() != StateRunning {
		return
	}
	data, err := jsonrpc.EncodeNotification(protocol.MethodToolsListChanged, nil)
	if err != nil {
		s.logger.Error("failed to encode list change notification", logging.Err(err))
		return
	}
	n := s.streams.Broadcast(string(data))
	s.logger.Debug("tool list change broadcast", "streams", n)
}

// exchange is one framed request on its way to a response.
type exchange struct {
	conn  net.Conn
	req   *transport.Request
	start time.Time
	cors  http.Header
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	start := s.clock.Now()

	opts := s.cfg.Read
	opts.Stopped = func() bool { return ctx.Err() != nil }

	s.mu.Lock()
	s.reading = conn
	s.mu.Unlock()

	req, err := transport.ReadRequest(conn, opts)

	s.mu.Lock()
	s.reading = nil
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, transport.ErrIdle) || errors.Is(err, transport.ErrStopped) {
			s.logger.Debug("connection closed without request", logging.RemoteAddr(conn.RemoteAddr().String()), logging.Err(err))
			_ = conn.Close()
			return
		}
		s.logger.Warn("malformed request", logging.RemoteAddr(conn.RemoteAddr().String()), logging.Err(err))
		x := &exchange{conn: conn, req: &transport.Request{Method: "?", Path: "?", RemoteAddr: conn.RemoteAddr().String()}, start: start}
		s.finish(x, transport.Text(http.StatusBadRequest, "bad request: "+err.Error()))
		return
	}

	x := &exchange{conn: conn, req: req, start: start}
	if resp := s.safeRoute(ctx, x); resp != nil {
		s.finish(x, resp)
	}
}

// safeRoute answers 500 when routing panics, keeping the listener alive.
func (s *Server) safeRoute(ctx context.Context, x *exchange) (resp *transport.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic while routing request",
				"panic", fmt.Sprint(r),
				logging.RemoteAddr(x.req.RemoteAddr),
			)
			resp = transport.Text(http.StatusInternalServerError, "internal server error")
		}
	}()
	return s.route(ctx, x)
}

// finish writes resp, closes the connection and records the request.
func (s *Server) finish(x *exchange, resp *transport.Response) {
	for k, vs := range x.cors {
		if resp.Header.Get(k) == "" {
			resp.Header[k] = vs
		}
	}
	if err := transport.WriteResponse(x.conn, resp); err != nil {
		s.logger.Debug("response not delivered", logging.RemoteAddr(x.req.RemoteAddr), logging.Err(err))
	}
	_ = x.conn.Close()
	s.record(x, resp.Status)
}

func (s *Server) record(x *exchange, status int) {
	s.metrics.RecordHTTPRequest(context.Background(), x.req.Method, s.pathLabel(x.req.Path), status, s.clock.Since(x.start))
}

func (s *Server) pathLabel(path string) string {
	switch path {
	case s.cfg.Path, PathHealthz, PathReadyz, PathHealthzDetailed:
		return path
	default:
		return "other"
	}
}

// route answers x. A nil response means the connection was handed off to
// a stream or a call worker, which owns it from then on.
func (s *Server) route(ctx context.Context, x *exchange) *transport.Response {
	req := x.req
	origin := req.Header.Get(security.HeaderOrigin)

	if resp, ok := s.health.Respond(req.Path); ok {
		if !s.gate.AllowedOrigin(origin) {
			return transport.Text(http.StatusForbidden, "forbidden: origin not allowed")
		}
		return resp
	}

	if req.Path != s.cfg.Path {
		return transport.Text(http.StatusNotFound, "not found")
	}

	if s.gate.AllowedOrigin(origin) {
		x.cors = security.CORSHeaders(origin)
	}

	if req.Method == http.MethodOptions {
		if x.cors == nil {
			return transport.Text(http.StatusForbidden, "forbidden: origin not allowed")
		}
		return transport.NewResponse(http.StatusNoContent)
	}

	sessionID := req.Header.Get(security.HeaderSessionID)
	known := sessionID != "" && s.sessions.Exists(sessionID)

	if err := s.gate.Check(req, known); err != nil {
		return transport.Text(security.Status(err), err.Error())
	}

	switch req.Method {
	case http.MethodPost:
		return s.handlePost(ctx, x, sessionID, known)
	case http.MethodGet:
		return s.handleStream(x, sessionID, known)
	case http.MethodDelete:
		return s.handleDelete(sessionID, known)
	default:
		resp := transport.Text(http.StatusMethodNotAllowed, "method not allowed")
		resp.Header.Set("Allow", "GET, POST, DELETE, OPTIONS")
		return resp
	}
}

func (s *Server) handlePost(ctx context.Context, x *exchange, sessionID string, known bool) *transport.Response {
	rpcReq, rpcErr := jsonrpc.Decode(x.req.Body)
	if rpcErr != nil {
		return s.reply(x, s.router.Reject(rpcReq, rpcErr))
	}

	// A stale session header is ignored on initialize so a client can
	// recover after a server restart.
	if sessionID != "" && !known && rpcReq.Method != protocol.MethodInitialize {
		return transport.Text(http.StatusNotFound, "session not found")
	}
	if !known {
		sessionID = ""
	}

	if !protocol.UsesBridge(rpcReq.Method) {
		return s.reply(x, s.dispatch(rpcReq, func() protocol.Outcome {
			return s.router.Dispatch(ctx, sessionID, rpcReq)
		}))
	}

	s.calls.Go(func() {
		s.finish(x, s.reply(x, s.dispatch(rpcReq, func() protocol.Outcome {
			return s.dispatchCall(ctx, sessionID, rpcReq)
		})))
	})
	return nil
}

// dispatch runs fn and turns a panic into -32603.
func (s *Server) dispatch(req *jsonrpc.Request, fn func() protocol.Outcome) (out protocol.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic while dispatching", logging.Method(req.Method), "panic", fmt.Sprint(r))
			out = s.router.Reject(req, jsonrpc.InternalError(fmt.Sprintf("%s failed unexpectedly", req.Method)))
		}
	}()
	return fn()
}

// dispatchCall runs a bridged method once the call slot is free. The slot
// wait and the call share one deadline of CallTimeout, so a call queued
// behind others is still answered within its own timeout.
func (s *Server) dispatchCall(ctx context.Context, sessionID string, req *jsonrpc.Request) protocol.Outcome {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.callSlot.Acquire(callCtx, 1); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("call dropped at shutdown", logging.Operation(req.Method), logging.Session(sessionID))
			return s.router.Reject(req, jsonrpc.ServerError("server is stopping; the call was not started"))
		}
		queued := fmt.Errorf("call waited %s behind other calls: %w", s.cfg.CallTimeout, bridge.ErrNeverStarted)
		return s.router.CallNotStarted(callCtx, sessionID, req, queued)
	}
	defer s.callSlot.Release(1)
	return s.router.Dispatch(callCtx, sessionID, req)
}

// reply frames a dispatch outcome as HTTP.
func (s *Server) reply(x *exchange, out protocol.Outcome) *transport.Response {
	if out.Response == nil {
		return transport.NewResponse(http.StatusAccepted)
	}

	body, err := out.Response.Encode()
	if err != nil {
		s.logger.Error("failed to encode response", logging.Err(err))
		fallback := jsonrpc.NewErrorResponse(out.Response.ID, jsonrpc.InternalError("failed to encode response"))
		body, _ = fallback.Encode()
	}

	var resp *transport.Response
	if x.req.Accepts(sse.ContentType) && !x.req.Accepts("application/json") {
		resp = sse.SingleEvent(http.StatusOK, body)
	} else {
		resp = transport.JSON(http.StatusOK, body)
	}
	if out.SessionID != "" {
		resp.Header.Set(security.HeaderSessionID, out.SessionID)
	}
	return resp
}

func (s *Server) handleStream(x *exchange, sessionID string, known bool) *transport.Response {
	if !x.req.Accepts(sse.ContentType) {
		return transport.Text(http.StatusNotAcceptable, "GET requires Accept: text/event-stream")
	}
	if sessionID != "" && !known {
		return transport.Text(http.StatusNotFound, "session not found")
	}

	header := x.cors
	if sessionID != "" {
		if header == nil {
			header = make(http.Header)
		}
		header.Set(security.HeaderSessionID, sessionID)
	}

	lastEventID := sse.ParseLastEventID(x.req.Header.Get("Last-Event-ID"))
	if _, err := s.streams.Open(x.conn, sessionID, lastEventID, header); err != nil {
		s.logger.Debug("stream not opened", logging.RemoteAddr(x.req.RemoteAddr), logging.Err(err))
		return nil
	}
	s.record(x, http.StatusOK)
	return nil
}

func (s *Server) handleDelete(sessionID string, known bool) *transport.Response {
	if sessionID == "" {
		return transport.Text(http.StatusBadRequest, "missing "+security.HeaderSessionID+" header")
	}
	if !known {
		return transport.Text(http.StatusNotFound, "session not found")
	}

	_ = s.sessions.Remove(sessionID)
	closed := s.streams.CloseSession(sessionID)
	s.logger.Info("session terminated by client", logging.Session(sessionID), "closed_streams", closed)
	return transport.NewResponse(http.StatusNoContent)
}
