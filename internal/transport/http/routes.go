package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Routes builds the API surface: submissions, the operator endpoints for
// dead-lettered messages, swagger and /metrics.
func Routes(h *Handler, admin *AdminHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger, after RequestID so req_id is populated
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/submissions", func(r chi.Router) {
		r.Post("/", h.CreateSubmission)
		r.Get("/{id}", h.GetSubmission)
		r.Get("/{id}/summary", h.GetSubmissionSummary)
	})

	if admin != nil {
		r.Route("/admin/failed-events", func(r chi.Router) {
			r.Get("/", admin.ListFailedEvents)
			r.Get("/{id}", admin.GetFailedEvent)
			r.Post("/{id}/reprocess", admin.ReprocessFailedEvent)
			r.Post("/{id}/ignore", admin.IgnoreFailedEvent)
		})
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
