package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires up the HTTP surface: webhook ingress, queue admin,
// health and metrics.
func NewRouter(webhook *WebhookHandler, jobs *JobHandler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Graph sends the validation handshake and notifications as POSTs.
	r.Post("/api/webhooks/graph", webhook.HandleNotification)

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", jobs.ListJobs)
		r.Get("/stats", jobs.GetStats)
		r.Post("/{jobID}/retry", jobs.RetryJob)
		r.Delete("/{jobID}", jobs.CancelJob)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}
