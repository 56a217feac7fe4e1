// Package api provides HTTP API server components.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mindwell/convomem/config"
	"github.com/mindwell/convomem/pkg/api/handlers"
	"github.com/mindwell/convomem/pkg/api/middleware"
	"github.com/mindwell/convomem/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Sessions handles the conversational session endpoints
	Sessions *handlers.SessionHandler

	// Admin handles the read-only operator endpoints
	Admin *handlers.AdminHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams cognition events
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// RateLimit throttles turn submission per session when set
	RateLimit *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))

	RegisterRoutes(r, handlers, cfg.Server.HTTP.RequestTimeout)

	return r
}

// RegisterRoutes registers all routes. A positive timeout bounds the
// /api/v1 handlers; the event stream is long-lived and never bounded.
func RegisterRoutes(r chi.Router, handlers *Handlers, timeout time.Duration) {
	r.Route("/api/v1", func(r chi.Router) {
		if timeout > 0 {
			r.Use(middleware.Timeout(timeout))
		}

		if handlers.Sessions != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", handlers.Sessions.ListSessions)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", handlers.Sessions.GetSession)
					r.Delete("/", handlers.Sessions.ClearSession)
					if handlers.RateLimit != nil {
						r.With(handlers.RateLimit.Handler).Post("/turns", handlers.Sessions.SubmitTurn)
					} else {
						r.Post("/turns", handlers.Sessions.SubmitTurn)
					}
					r.Get("/guidance", handlers.Sessions.GetGuidance)
					r.Post("/goals", handlers.Sessions.AddGoal)
					r.Get("/context", handlers.Sessions.GetContext)
					r.Post("/end", handlers.Sessions.EndSession)
				})
			})
		}

		if handlers.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/sessions", handlers.Admin.Overview)
				r.Get("/sessions/{sessionID}", handlers.Admin.SessionDetail)
				r.Get("/events", handlers.Admin.Events)
				r.Get("/analytics/emotions", handlers.Admin.EmotionAnalytics)
				r.Get("/analytics/techniques", handlers.Admin.TechniqueAnalytics)
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}
}
