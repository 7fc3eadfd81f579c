package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/wattmon/internal/api/admin"
	"github.com/good-yellow-bee/wattmon/internal/api/alerts"
	"github.com/good-yellow-bee/wattmon/internal/api/auth"
	"github.com/good-yellow-bee/wattmon/internal/api/houses"
	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/api/users"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.AccessTokenTTL)
	lockoutTracker := auth.NewLockoutTracker(s.config.LockoutThreshold, s.config.LockoutDuration)
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)
	userLimiter := middleware.NewRateLimiter(s.config.RateLimitPerUser)
	s.closers = append(s.closers, lockoutTracker.Close, ipLimiter.Close, userLimiter.Close)

	store := s.deps.Storage
	auditor := s.deps.Auditor

	authHandler := auth.NewHandler(store, jwtService, lockoutTracker, s.config.RefreshTokenTTL, auditor, s.log)
	userHandler := users.NewHandler(store, auditor)
	houseHandler := houses.NewHandler(store, s.deps.Calculator, s.config.MaxReadingsRange)
	alertHandler := alerts.NewHandler(store, s.deps.Notifier, auditor)
	adminHandler := admin.NewHandler(store, s.deps.Ingester, s.deps.Sweeper, auditor)

	// Global middleware
	r.Use(middleware.RequestLogger(s.log, s.config.Verbose))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(ipLimiter))
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTAuth(jwtService))
				r.Post("/logout", authHandler.Logout)
			})
		})

		// Everything below requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))
			r.Use(middleware.RateLimitByUser(userLimiter))

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", userHandler.GetCurrentUser)
				r.Put("/me/password", userHandler.ChangePassword)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Get("/", userHandler.List)
					r.Post("/", userHandler.Create)
				})
			})

			r.Get("/settings", userHandler.GetSettings)
			r.Put("/settings", userHandler.UpdateSettings)

			r.Route("/houses", func(r chi.Router) {
				r.Get("/", houseHandler.ListHouses)
				r.Get("/{id}", houseHandler.GetHouse)
				r.Get("/{id}/statistics", houseHandler.Statistics)
				r.Get("/{id}/comparison", houseHandler.Comparison)
			})

			r.Route("/sensors", func(r chi.Router) {
				r.Get("/", houseHandler.ListSensors)
				r.Get("/{id}", houseHandler.GetSensor)
				r.Get("/{id}/readings", houseHandler.Readings)
				r.Get("/{id}/live", houseHandler.Live)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertHandler.List)
				r.Post("/", alertHandler.Create)
				r.Post("/{id}/read", alertHandler.MarkRead)
				r.Post("/{id}/resolve", alertHandler.Resolve)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/readings", adminHandler.IngestReadings)
				r.Post("/sensors/{id}/data", adminHandler.IngestSensorData)
				r.Post("/watchdog/sweep", adminHandler.Sweep)
				r.Get("/overview", adminHandler.Overview)
				r.Get("/activity", adminHandler.Activity)
			})
		})
	})

	// Health probes (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
