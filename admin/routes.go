package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. Status and checkpoint routes require
// secret when it is set; liveness and metrics stay open for probes and
// scrapers.
func NewRouter(h *Handlers, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/metrics", h.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Get("/status", h.handleStatus)
		r.Get("/checkpoint", h.handleCheckpoint)
	})

	return r
}

// Serve runs the admin server on addr until it fails or is shut down
func Serve(server *http.Server) error {
	log.Info().Str("address", server.Addr).Msg("Admin endpoints enabled at /healthz, /status, /checkpoint, /metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
