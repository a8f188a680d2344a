package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/tutorcore/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Chat turns
		r.Post("/chat", h.SendMessage)

		// Conversations
		r.Get("/conversations/{id}/messages", h.History)
		r.Delete("/conversations/{id}/messages", h.ClearHistory)

		// Modes
		r.Get("/modes", h.ListModes)
		r.Post("/modes", h.RegisterMode)

		// Backends (admin)
		r.Get("/backends", h.ListBackends)
		r.Put("/backends/active", h.SwitchBackend)

		// Metrics
		r.Get("/metrics", h.Metrics)
	})

	// WebSocket endpoint for turn lifecycle events.
	r.Get("/ws", hub.HandleWS)
}
