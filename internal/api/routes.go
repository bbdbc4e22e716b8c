package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/tinymail/internal/metrics"
)

// RouteConfig carries the parts of the router that come from config.
type RouteConfig struct {
	AllowedOrigins []string
}

// TrackingHandler serves the public callback endpoints embedded in sent
// mail. *tracking.Handler satisfies it.
type TrackingHandler interface {
	HandlePixel(w http.ResponseWriter, r *http.Request)
	HandleUnsubscribe(w http.ResponseWriter, r *http.Request)
}

// SetupRoutes builds the full router. The tracking callbacks live inside
// /api next to the JSON API.
func SetupRoutes(h *Handlers, health *HealthChecker, tracking TrackingHandler, cfg RouteConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if tracking != nil {
			r.Get("/webhooks/pixel/{token}", tracking.HandlePixel)
			r.Get("/webhooks/unsubscribe/{token}", tracking.HandleUnsubscribe)
		}

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContacts)
			r.Get("/{id}", h.GetContact)
			r.Put("/{id}", h.UpdateContact)
			r.Delete("/{id}", h.DeleteContact)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Put("/{id}", h.UpdateCampaign)
			r.Delete("/{id}", h.DeleteCampaign)
			r.Post("/{id}/start", h.StartCampaign)
			r.Get("/{id}/stats", h.CampaignStats)
		})

		r.Route("/mails", func(r chi.Router) {
			r.Get("/", h.ListMails)
			r.Post("/", h.ScheduleMail)
			r.Get("/{id}", h.GetMail)
			r.Delete("/{id}", h.DeleteMail)
		})

		r.Get("/stats", h.Stats)
		r.Delete("/tasks/{id}", h.CancelTask)
	})

	return r
}
