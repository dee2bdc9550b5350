package handler

import (
	"net/http"
	"time"

	"github.com/dandantas/stocksync/internal/service"
)

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	svc       *service.Service
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(svc *service.Service, version string) *HealthHandler {
	return &HealthHandler{
		svc:       svc,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health reports liveness only
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready returns the service readiness status
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	readiness := h.svc.Ready(r.Context())

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, readiness)
}
