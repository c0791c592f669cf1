package api

import (
	"net/http"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)

		r.Route("/auth", func(r chi.Router) {
			s.limit(r, s.cfg.Server.RateLimit.Auth)

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		// Content and channel endpoints are loaded by the embedded frame,
		// which carries no login cookie.
		r.Group(func(r chi.Router) {
			s.limit(r, s.cfg.Server.RateLimit.Public)

			r.Get("/sessions/{sid}/content", s.handleSessionContent)
			r.Get("/sessions/{sid}/channel", s.handleSessionChannel)
		})

		r.Group(func(r chi.Router) {
			if !s.cfg.Auth.AnonymousRead {
				r.Use(s.requireAuth)
			} else {
				r.Use(s.optionalAuth)
			}

			s.limit(r, s.cfg.Server.RateLimit.Authenticated)

			r.Get("/tests", s.handleListTests)
			r.Get("/tests/{id}", s.handleGetTest)
			r.Get("/tests/{id}/runs", s.handleListRuns)
			r.Get("/tests/{id}/stats", s.handleTestStats)
			r.Get("/runs/changes", s.handleRunChanges)

			r.Get("/sessions", s.handleListMeasurementSessions)
			r.Get("/sessions/{sid}", s.handleGetMeasurementSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			s.limit(r, s.cfg.Server.RateLimit.Authenticated)

			r.Post("/tests", s.handleCreateTest)
			r.Put("/tests/{id}", s.handleUpdateTest)
			r.With(s.requireRole("admin")).
				Delete("/tests/{id}", s.handleDeleteTest)

			r.Post("/tests/{id}/sessions", s.handleStartSession)
			r.Post("/sessions/{sid}/toggle", s.handleToggleSession)
			r.Post("/sessions/{sid}/reset", s.handleResetSession)
			r.Delete("/sessions/{sid}", s.handleCloseSession)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireRole("admin"))
			s.limit(r, s.cfg.Server.RateLimit.Authenticated)

			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)

			r.Get("/sessions", s.handleListLoginSessions)
			r.Delete("/sessions/{id}", s.handleDeleteLoginSession)
		})
	})

	return r
}

// limit installs the per-IP limiter for tier when rate limiting is on.
func (s *server) limit(r chi.Router, tier config.RateLimitTier) {
	if !s.cfg.Server.RateLimit.Enabled {
		return
	}

	r.Use(s.rateLimitMiddleware(tier))
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
