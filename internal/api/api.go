// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/api/admin"
	"github.com/good-yellow-bee/wattmon/internal/api/alerts"
	"github.com/good-yellow-bee/wattmon/internal/api/health"
	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/energy"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	JWTSecret        []byte
	HTTPTLSEnabled   bool   // Enable HTTPS for API server
	HTTPTLSCertFile  string // HTTPS certificate file
	HTTPTLSKeyFile   string // HTTPS private key file
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	RateLimitPerIP   int // requests per minute on auth routes
	RateLimitPerUser int // requests per minute per authenticated user
	LockoutThreshold int
	LockoutDuration  time.Duration
	MaxReadingsRange time.Duration // Max allowed readings query range
	Version          string
	Verbose          bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour // 7 days
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 10
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 300
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5 // 5 failed attempts
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 30 * time.Minute
	}
	if c.MaxReadingsRange == 0 {
		c.MaxReadingsRange = 31 * 24 * time.Hour
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// Deps are the domain services the API exposes.
type Deps struct {
	Storage    storage.Storage
	Calculator *energy.Calculator
	Ingester   admin.Ingester
	Sweeper    admin.Sweeper
	// Notifier delivers manually created alerts. Optional.
	Notifier alerts.Notifier
	// Auditor records changes in the activity log. Defaults to the storage-backed logger.
	Auditor audit.Logger
	Logger  zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	log           zerolog.Logger
	server        *http.Server
	healthHandler *health.Handler
	closers       []func()
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Calculator == nil || deps.Ingester == nil || deps.Sweeper == nil {
		return nil, fmt.Errorf("calculator, ingester and sweeper are required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	logger := deps.Logger.With().Str("component", "api").Logger()
	if deps.Auditor == nil {
		deps.Auditor = audit.NewStoreLogger(deps.Storage.Activity(), logger)
	}

	s := &Server{
		config:        cfg,
		deps:          deps,
		log:           logger,
		healthHandler: health.NewHandler(cfg.Version),
	}
	s.healthHandler.RegisterChecker(health.NewStorageChecker(deps.Storage))

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.Info().Str("address", s.config.Address).Bool("tls", s.config.HTTPTLSEnabled).Msg("HTTP API listening")
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	defer s.close()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *Server) close() {
	for _, c := range s.closers {
		c()
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
