// Package admin serves the operator endpoints of the cursor: liveness, a
// status snapshot, the persisted checkpoint and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/maxpert/logcursor/checkpoint"
	"github.com/maxpert/logcursor/daemon"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the daemon state
type StatusSource interface {
	Status() daemon.Status
	Health() daemon.Health
}

// CheckpointSource loads the persisted cursor position
type CheckpointSource interface {
	Load(ctx context.Context) (checkpoint.State, error)
}

// Handlers serves the admin endpoints
type Handlers struct {
	status      StatusSource
	checkpoints CheckpointSource
	metrics     http.Handler
}

// NewHandlers creates admin handlers. metrics may be nil when Prometheus is
// disabled.
func NewHandlers(status StatusSource, checkpoints CheckpointSource, metrics http.Handler) *Handlers {
	return &Handlers{
		status:      status,
		checkpoints: checkpoints,
		metrics:     metrics,
	}
}

// handleHealthz fails only once the daemon has given up
func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := h.status.Health()
	if health.Status == daemon.Fatal {
		writeErrorResponse(w, http.StatusServiceUnavailable, health.Status.String())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(health.Status.String()))
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.status.Status())
}

func (h *Handlers) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	st, err := h.checkpoints.Load(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, st)
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeErrorResponse(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	h.metrics.ServeHTTP(w, r)
}

// writeJSONResponse writes data wrapped in a data envelope
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
