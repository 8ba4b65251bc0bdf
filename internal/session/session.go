// Package session tracks protocol sessions issued by the initialize handshake.
//
// A session is an opaque identifier plus timestamps. Sessions are process
// scoped and never persisted; they disappear on explicit termination, on
// expiry after an idle period, or when the server stops.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/logging"
)

// DefaultTTL is the idle period after which a session is swept.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a session id is unknown or already terminated.
var ErrNotFound = errors.New("session not found")

// State is the protocol state of a session.
type State int

const (
	// StateUninitialized is the state of a connection before initialize.
	StateUninitialized State = iota
	// StateInitialized is the state after a successful initialize.
	StateInitialized
	// StateTerminated is the state after DELETE, expiry or shutdown.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is a snapshot of a tracked session.
type Session struct {
	ID              string
	CreatedAt       time.Time
	LastSeen        time.Time
	ProtocolVersion string
	State           State
}

// Store holds sessions keyed by id. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	clock   clockwork.Clock
	ttl     time.Duration
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithTTL sets the idle expiry. A zero or negative TTL disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics reports the active session gauge.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		clock:    clockwork.NewRealClock(),
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.KeyComponent, "session")
	return s
}

// Create issues a fresh session for the negotiated protocol version.
// Every call yields a new id; existing sessions are never reused.
func (s *Store) Create(protocolVersion string) Session {
	now := s.clock.Now()
	sess := &Session{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		LastSeen:        now,
		ProtocolVersion: protocolVersion,
		State:           StateInitialized,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.metrics.IncrementActiveSessions(context.Background())
	s.logger.Debug("session created", logging.Session(sess.ID), "protocol_version", protocolVersion)
	return *sess
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

// Exists reports whether id names a live session.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Touch records activity on the session, postponing its expiry.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastSeen = s.clock.Now()
	return nil
}

// Remove terminates the session.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.State = StateTerminated
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.metrics.DecrementActiveSessions(context.Background())
	s.logger.Debug("session terminated", logging.Session(id))
	return nil
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	now := s.clock.Now()
	expired := 0

	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastSeen) > s.ttl {
			sess.State = StateTerminated
			delete(s.sessions, id)
			expired++
		}
	}
	s.mu.Unlock()

	for i := 0; i < expired; i++ {
		s.metrics.DecrementActiveSessions(context.Background())
	}
	if expired > 0 {
		s.logger.Info("cleaned up expired sessions", "count", expired)
	}
	return expired
}

// CloseAll terminates every session. It is called on server stop.
func (s *Store) CloseAll() int {
	s.mu.Lock()
	n := len(s.sessions)
	for _, sess := range s.sessions {
		sess.State = StateTerminated
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.metrics.DecrementActiveSessions(context.Background())
	}
	return n
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns the ids of all live sessions, oldest first.
func (s *Store) List() []string {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	ids := make([]string, len(all))
	for i, sess := range all {
		ids[i] = sess.ID
	}
	return ids
}
