// Package server exposes the monitor's read-only status API: loop state,
// cycle history, flagged issues, host health and a live event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/database"
	"github.com/ftpay/portalwatch/internal/events"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/monitor"
)

// Config holds server configuration.
type Config struct {
	Log           zerolog.Logger
	Port          int
	DevMode       bool
	Monitor       *monitor.Loop
	History       *history.Repository
	DB            *database.DB
	Bus           *events.Bus
	ScreenshotDir string
}

// Server represents the HTTP status server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	monitor *monitor.Loop
	history *history.Repository
	db      *database.DB
	system  *SystemHandlers
	stream  *EventsStreamHandler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		monitor: cfg.Monitor,
		history: cfg.History,
		db:      cfg.DB,
		system:  NewSystemHandlers(cfg.DB, cfg.ScreenshotDir, cfg.Log),
		stream:  NewEventsStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/cycles", s.handleCycles)
		r.Get("/cycles/{id}/snapshot", s.handleCycleSnapshot)
		r.Get("/issues", s.handleIssues)
		r.Get("/system", s.system.HandleSystem)
		r.Get("/events/stream", s.stream.ServeHTTP)
	})
}

// Start starts the HTTP server. Blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
