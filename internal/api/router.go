package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/septivank/gps-tracking-worker/internal/config"
)

// NewRouter builds the HTTP API
func NewRouter(h *Handler, cfg config.HTTPConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices/", h.Devices)
		r.Get("/export-csv/", h.ExportCSV)
		r.Get("/stats/", h.Stats)
		r.Get("/logs/", h.Logs)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.TriggerRateLimit, time.Minute))
			r.Post("/fetch-tracking/", h.FetchTracking)
			r.Post("/load-database/", h.LoadDatabase)
		})
	})

	return r
}
