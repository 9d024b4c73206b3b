package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowmax205/eas/pkg/metrics"
)

// HealthProvider reports dependency health.
type HealthProvider interface {
	Health(ctx context.Context) map[string]any
}

// HealthHandler handles health check and metrics requests.
type HealthHandler struct {
	provider HealthProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(provider HealthProvider) *HealthHandler {
	return &HealthHandler{provider: provider}
}

// HandleHealth handles GET /healthz. A degraded dependency yields 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Health(r.Context())
	code := http.StatusOK
	if status["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// MetricsHandler serves the service's Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
