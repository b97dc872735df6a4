// Package server exposes the indexing engine over HTTP. It is a thin
// control surface: every operation delegates to the coordinator or the
// store adapters, and this package is the single place where the error
// taxonomy turns into status codes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/semcode/semcode/internal/coordinator"
	"github.com/semcode/semcode/internal/embedder"
	"github.com/semcode/semcode/internal/graphstore"
	"github.com/semcode/semcode/internal/project"
	"github.com/semcode/semcode/internal/vectorstore"
)

// Config holds server configuration.
type Config struct {
	Host string
	Port int
	// DefaultProvider is used for search queries that do not name one.
	DefaultProvider string
	// RequestTimeout bounds each request.
	RequestTimeout time.Duration
	// AllowAllOrigins opens CORS for development.
	AllowAllOrigins bool
}

// Server wires the HTTP routes to the engine.
type Server struct {
	cfg        Config
	coord      *coordinator.Coordinator
	registry   *project.Registry
	pool       *embedder.Pool
	vectors    *vectorstore.Store
	graphs     *graphstore.Store
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates the server with all dependencies.
func New(
	cfg Config,
	coord *coordinator.Coordinator,
	registry *project.Registry,
	pool *embedder.Pool,
	vectors *vectorstore.Store,
	graphs *graphstore.Store,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		coord:    coord,
		registry: registry,
		pool:     pool,
		vectors:  vectors,
		graphs:   graphs,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	corsOpts := cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
	if s.cfg.AllowAllOrigins {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/embedders", s.handleListEmbedders)
		r.Post("/search", s.handleSearch)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleProjectStatus)
				r.Delete("/", s.handleRemoveProject)
				r.Post("/index", s.handleStartIndexing)
				r.Post("/stop", s.handleStopIndexing)
				r.Post("/changes", s.handleFileChanges)
				r.Get("/vector", s.handleVectorInfo)
				r.Get("/graph", s.handleGraphInfo)
			})
		})
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * s.cfg.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
