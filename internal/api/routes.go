package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aixr/awards-mailer/internal/auth"
)

// SetupRoutes configures the router. The /api subtree requires the
// operator key; webhooks live outside it because the provider
// authenticates with its payload signature, and health stays open for
// load balancers.
func SetupRoutes(h *Handlers, guard *auth.Keychain) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.HealthCheck)

	r.Post("/webhooks/resend", h.ReceiveWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(guard.RequireKey)
		r.Route("/communications/{communicationID}", func(r chi.Router) {
			r.Get("/", h.GetCommunication)
			r.Post("/send", h.TriggerSend)
		})
		r.Post("/scheduler/tick", h.RunSchedulerTick)
	})

	return r
}
