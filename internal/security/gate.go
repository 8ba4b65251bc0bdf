// Package security validates requests before any method runs: the browser
// Origin, the static API key and the negotiated protocol version header.
package security

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/teemow/hostmcp/internal/logging"
	"github.com/teemow/hostmcp/internal/protocol"
	"github.com/teemow/hostmcp/internal/transport"
)

// Header names inspected by the gate.
const (
	HeaderOrigin          = "Origin"
	HeaderAuthorization   = "Authorization"
	HeaderAPIKey          = "X-API-Key"
	HeaderProtocolVersion = "MCP-Protocol-Version"
	HeaderSessionID       = "Mcp-Session-Id"
)

var (
	// ErrForbiddenOrigin is returned for a cross-origin request from a
	// non-local origin.
	ErrForbiddenOrigin = errors.New("origin not allowed")

	// ErrUnauthorized is returned when an API key is configured and the
	// request does not carry it.
	ErrUnauthorized = errors.New("missing or invalid API key")

	// ErrUnsupportedVersion is returned when the protocol version header
	// names a revision the server does not speak.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// localSchemes are origins of embedded or packaged clients running on the
// same machine.
var localSchemes = []string{
	"chrome-extension://",
	"moz-extension://",
	"vscode-webview://",
	"vscode-file://",
	"tauri://",
	"app://",
	"file://",
}

// Gate checks requests in a fixed order and stops at the first failure.
type Gate struct {
	mu      sync.RWMutex
	apiKey  string
	origins map[string]struct{}

	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithAPIKey requires key on every request. An empty key disables the check.
func WithAPIKey(key string) Option {
	return func(g *Gate) { g.apiKey = key }
}

// WithAllowedOrigins allows extra origins verbatim, for example a web UI
// served from a LAN address.
func WithAllowedOrigins(origins ...string) Option {
	return func(g *Gate) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				g.origins[strings.TrimSuffix(o, "/")] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate creates a gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		origins: make(map[string]struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.WithComponent(g.logger, "security")
	return g
}

// SetAPIKey replaces the configured key.
func (g *Gate) SetAPIKey(key string) {
	g.mu.Lock()
	g.apiKey = key
	g.mu.Unlock()
}

// RequiresKey reports whether an API key is configured.
func (g *Gate) RequiresKey() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.apiKey != ""
}

// Check validates req. sessionKnown reports whether the request names an
// existing session; only then is the protocol version header enforced.
func (g *Gate) Check(req *transport.Request, sessionKnown bool) error {
	origin := req.Header.Get(HeaderOrigin)
	if !g.AllowedOrigin(origin) {
		g.logger.Warn("rejected request origin", "origin", origin, logging.RemoteAddr(req.RemoteAddr))
		return ErrForbiddenOrigin
	}

	if !g.authorized(req.Header) {
		g.logger.Warn("rejected request credentials",
			logging.RemoteAddr(req.RemoteAddr),
			"presented", logging.SanitizeToken(presentedKey(req.Header)),
		)
		return ErrUnauthorized
	}

	if sessionKnown {
		if v := req.Header.Get(HeaderProtocolVersion); v != "" && !protocol.IsSupported(v) {
			g.logger.Warn("rejected protocol version header", "version", v, logging.RemoteAddr(req.RemoteAddr))
			return ErrUnsupportedVersion
		}
	}
	return nil
}

// AllowedOrigin reports whether a request with this Origin header may
// proceed. Requests without an Origin come from non-browser clients.
func (g *Gate) AllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}

	g.mu.RLock()
	_, listed := g.origins[strings.TrimSuffix(origin, "/")]
	g.mu.RUnlock()
	if listed {
		return true
	}

	for _, scheme := range localSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (g *Gate) authorized(h http.Header) bool {
	g.mu.RLock()
	key := g.apiKey
	g.mu.RUnlock()

	if key == "" {
		return true
	}
	presented := presentedKey(h)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}

// presentedKey extracts the key from Authorization, raw or as a Bearer
// token, falling back to X-API-Key.
func presentedKey(h http.Header) string {
	if auth := strings.TrimSpace(h.Get(HeaderAuthorization)); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return auth
	}
	return strings.TrimSpace(h.Get(HeaderAPIKey))
}

// Status maps a gate error to its HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrForbiddenOrigin):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnsupportedVersion):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// CORSHeaders returns the headers sent on every response to a browser. The
// allowed origin is echoed, never a wildcard.
func CORSHeaders(origin string) http.Header {
	h := make(http.Header)
	if origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", strings.Join([]string{
		"Content-Type", "Accept", HeaderAuthorization, HeaderAPIKey,
		HeaderSessionID, HeaderProtocolVersion, "Last-Event-ID",
	}, ", "))
	h.Set("Access-Control-Expose-Headers", HeaderSessionID)
	h.Set("Access-Control-Max-Age", "600")
	return h
}
