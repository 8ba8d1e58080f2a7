// Package server exposes compareMS2 sessions over HTTP, with a WebSocket
// stream of session events and a GraphQL endpoint at /query.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/graph"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/service"
)

// Deps holds the services the server exposes.
type Deps struct {
	Manager  *service.Manager
	Trees    *service.TreeService
	Species  *service.SpeciesService
	Executor *compare.Executor
	Slots    *parallel.Manager
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// AllowedOrigins lists the CORS origins; empty allows any origin.
	AllowedOrigins []string
}

// Server routes HTTP requests to the session services.
type Server struct {
	deps     Deps
	router   chi.Router
	upgrader websocket.Upgrader
	graphql  http.Handler
	started  time.Time
}

// New creates a server and registers its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		router:  chi.NewRouter(),
		started: time.Now(),
		graphql: graph.NewHandler(graph.NewResolver(deps.Manager, deps.Trees, deps.Species, deps.Slots, deps.Metrics)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(LoggingMiddleware(deps.Logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.RegisterRoutes(s.router)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/query", s.graphql)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Post("/compare", s.comparePair)
		r.Post("/species", s.startSpecies)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.startTree)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.removeSession)
				r.Post("/pause", s.pauseSession)
				r.Post("/resume", s.resumeSession)
				r.Post("/stop", s.stopSession)
				r.Get("/events", s.sessionEvents)
			})
		})
	})
}
