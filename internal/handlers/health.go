package handlers

import (
	"net/http"
	"time"

	"github.com/orderfield/storefront/internal/platform/httpx"
)

// ReadinessProbe checks one dependency; a non-nil error marks the service
// not ready.
type ReadinessProbe func() error

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	started time.Time
	probes  []ReadinessProbe
}

// NewHealthHandlers constructs the handlers with optional readiness probes.
func NewHealthHandlers(probes ...ReadinessProbe) *HealthHandlers {
	return &HealthHandlers{
		started: time.Now(),
		probes:  probes,
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether all registered probes pass.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	for _, probe := range h.probes {
		if probe == nil {
			continue
		}
		if err := probe(); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", err.Error(), http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
