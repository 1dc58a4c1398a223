package rest

import (
	"context"
	"net/http"
	"time"
)

const checkTimeout = 3 * time.Second

// Check is one dependency the node needs to serve requests.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the probe endpoints and the build version.
type HealthHandler struct {
	version string
	checks  []Check
}

func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

// HealthResponse is the body of /live, /ready and /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type ComponentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// run pings every check and reports whether all of them are up.
func (h *HealthHandler) run(ctx context.Context) (map[string]ComponentStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	out := make(map[string]ComponentStatus, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		start := time.Now()
		if err := c.Ping(ctx); err != nil {
			healthy = false
			out[c.Name] = ComponentStatus{Status: "down", Error: err.Error()}
			continue
		}
		out[c.Name] = ComponentStatus{Status: "ok", Latency: time.Since(start).String()}
	}
	return out, healthy
}

func statusOf(healthy bool) (string, int) {
	if healthy {
		return "ok", http.StatusOK
	}
	return "down", http.StatusServiceUnavailable
}

// Live answers as long as the process serves HTTP.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// Ready answers 503 while any check fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	_, healthy := h.run(r.Context())
	status, code := statusOf(healthy)
	writeJSON(w, code, HealthResponse{Status: status, Timestamp: time.Now()})
}

// Health is Ready with per check detail and the version.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components, healthy := h.run(r.Context())
	status, code := statusOf(healthy)
	writeJSON(w, code, HealthResponse{
		Status:     status,
		Version:    h.version,
		Components: components,
		Timestamp:  time.Now(),
	})
}

func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}
