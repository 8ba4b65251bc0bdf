package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teemow/hostmcp/internal/transport"
)

// Health endpoint paths. They are served outside the MCP path and do not
// require the API key.
const (
	PathHealthz         = "/healthz"
	PathReadyz          = "/readyz"
	PathHealthzDetailed = "/healthz/detailed"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// HealthStats is the live state reported by the detailed endpoint.
type HealthStats struct {
	Sessions     int  `json:"sessions"`
	Streams      int  `json:"streams"`
	PendingTasks int  `json:"pending_tasks"`
	LoopRunning  bool `json:"loop_running"`
}

// HealthChecker answers liveness and readiness probes.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool

	shuttingDown func() bool
	stats        func() HealthStats

	clock     clockwork.Clock
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker. Both callbacks are optional.
func NewHealthChecker(clock clockwork.Clock, shuttingDown func() bool, stats func() HealthStats) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthChecker{
		shuttingDown: shuttingDown,
		stats:        stats,
		clock:        clock,
		startTime:    clock.Now(),
	}
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

func (h *HealthChecker) isShuttingDown() bool {
	return h.shuttingDown != nil && h.shuttingDown()
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Stats  *HealthStats `json:"stats,omitempty"`
}

// Respond serves the health endpoint at path. The second result is false
// when path is not a health endpoint.
func (h *HealthChecker) Respond(path string) (*transport.Response, bool) {
	switch path {
	case PathHealthz:
		return h.Liveness(), true
	case PathReadyz:
		return h.Readiness(), true
	case PathHealthzDetailed:
		return h.Detailed(), true
	default:
		return nil, false
	}
}

// Liveness reports that the listener is answering.
func (h *HealthChecker) Liveness() *transport.Response {
	return healthJSON(http.StatusOK, HealthResponse{Status: healthStatusOK})
}

// Readiness reports whether requests are being accepted.
func (h *HealthChecker) Readiness() *transport.Response {
	checks := make(map[string]string)
	allOk := true

	if !h.ready.Load() {
		checks["ready"] = healthStatusNotReady
		allOk = false
	} else {
		checks["ready"] = healthStatusOK
	}

	if h.isShuttingDown() {
		checks["shutdown"] = healthStatusShuttingDown
		allOk = false
	} else {
		checks["shutdown"] = healthStatusOK
	}

	if h.stats != nil && !h.stats().LoopRunning {
		checks["primary_loop"] = healthStatusNotReady
		allOk = false
	} else {
		checks["primary_loop"] = healthStatusOK
	}

	if allOk {
		return healthJSON(http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
	}
	return healthJSON(http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
}

// Detailed reports uptime and live counters.
func (h *HealthChecker) Detailed() *transport.Response {
	response := DetailedHealthResponse{
		Status: healthStatusOK,
		Uptime: h.clock.Since(h.startTime).Truncate(time.Second).String(),
	}
	if h.stats != nil {
		stats := h.stats()
		response.Stats = &stats
	}

	status := http.StatusOK
	if !h.ready.Load() {
		response.Status = healthStatusNotReady
		status = http.StatusServiceUnavailable
	} else if h.isShuttingDown() {
		response.Status = healthStatusShuttingDown
		status = http.StatusServiceUnavailable
	}
	return healthJSON(status, response)
}

func healthJSON(status int, v any) *transport.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return transport.Text(http.StatusInternalServerError, err.Error())
	}
	return transport.JSON(status, body)
}
