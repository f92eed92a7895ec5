package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campaign-progress-engine/internal/observability"
)

func Router(h *ProgressHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/usuarios/{usuarioID}/campaigns", h.List)
		r.Get("/usuarios/{usuarioID}/campaigns/{slug}", h.Detail)
		r.Delete("/campaigns/{campaignID}/progress", h.Invalidate)
		r.Get("/campaigns/{campaignID}/summary", h.Summary)
		r.Post("/admin/cache/sweep", h.Sweep)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
