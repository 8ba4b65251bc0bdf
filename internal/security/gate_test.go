package security

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/hostmcp/internal/transport"
)

func request(headers map[string]string) *transport.Request {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &transport.Request{Method: http.MethodPost, Path: "/mcp", Header: h, RemoteAddr: "127.0.0.1:50000"}
}

func TestAllowedOrigin(t *testing.T) {
	g := NewGate(WithAllowedOrigins("https://ui.example.test/", " "))

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://127.0.0.1", want: true},
		{origin: "http://127.8.0.1:80", want: true},
		{origin: "http://[::1]:8080", want: true},
		{origin: "http://app.localhost", want: true},
		{origin: "chrome-extension://abcdef", want: true},
		{origin: "vscode-webview://1234", want: true},
		{origin: "https://ui.example.test", want: true},
		{origin: "https://evil.example.com", want: false},
		{origin: "http://localhost.evil.com", want: false},
		{origin: "null", want: false},
		{origin: "::not a url", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, g.AllowedOrigin(tt.origin))
		})
	}
}

func TestCheck_Order(t *testing.T) {
	g := NewGate(WithAPIKey("s3cret"))

	tests := []struct {
		name         string
		headers      map[string]string
		sessionKnown bool
		wantErr      error
		wantStatus   int
	}{
		{
			name:       "bad origin wins over bad key",
			headers:    map[string]string{HeaderOrigin: "https://evil.example.com", HeaderAuthorization: "wrong"},
			wantErr:    ErrForbiddenOrigin,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing key",
			headers:    map[string]string{},
			wantErr:    ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong bearer",
			headers:    map[string]string{HeaderAuthorization: "Bearer nope"},
			wantErr:    ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:    "raw key",
			headers: map[string]string{HeaderAuthorization: "s3cret"},
		},
		{
			name:    "bearer key",
			headers: map[string]string{HeaderAuthorization: "bearer s3cret"},
		},
		{
			name:    "api key header",
			headers: map[string]string{HeaderAPIKey: "s3cret"},
		},
		{
			name:         "bad version with session",
			headers:      map[string]string{HeaderAuthorization: "s3cret", HeaderProtocolVersion: "1999-01-01"},
			sessionKnown: true,
			wantErr:      ErrUnsupportedVersion,
			wantStatus:   http.StatusBadRequest,
		},
		{
			name:    "bad version before session",
			headers: map[string]string{HeaderAuthorization: "s3cret", HeaderProtocolVersion: "1999-01-01"},
		},
		{
			name:         "missing version with session",
			headers:      map[string]string{HeaderAuthorization: "s3cret"},
			sessionKnown: true,
		},
		{
			name:         "supported version",
			headers:      map[string]string{HeaderAuthorization: "s3cret", HeaderProtocolVersion: "2025-03-26"},
			sessionKnown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(request(tt.headers), tt.sessionKnown)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantStatus, Status(err))
		})
	}
}

func TestCheck_NoKeyConfigured(t *testing.T) {
	g := NewGate()
	assert.False(t, g.RequiresKey())
	assert.NoError(t, g.Check(request(nil), false))

	g.SetAPIKey("k")
	assert.True(t, g.RequiresKey())
	assert.ErrorIs(t, g.Check(request(nil), false), ErrUnauthorized)
	assert.NoError(t, g.Check(request(map[string]string{HeaderAuthorization: "Bearer k"}), false))
}

func TestCORSHeaders(t *testing.T) {
	h := CORSHeaders("http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", h.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, h.Get("Access-Control-Allow-Headers"), HeaderSessionID)
	assert.Contains(t, h.Get("Access-Control-Allow-Methods"), "DELETE")

	assert.Empty(t, CORSHeaders("").Get("Access-Control-Allow-Origin"))
}
