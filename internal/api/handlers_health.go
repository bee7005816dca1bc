package api

import (
	"net/http"
	"time"
)

var startTime = time.Now()

// handleHealth is the liveness probe.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

// handleReady is the readiness probe. The cache backend must answer; the
// rate limiter may be degraded (it fails open) so a store outage is
// reported but does not fail readiness.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.Cache.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"cache":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
