// Package server exposes the engine over a JSON REST API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/dagrun/internal/config"
	"github.com/me/dagrun/internal/engine"
	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/internal/store"
)

// Server is the dagrun REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	parser    *parser.Parser
	engine    *engine.Engine
	store     store.Store

	// live holds runs currently executing in this process, for cancellation.
	mu   sync.RWMutex
	live map[string]*engine.Run
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, eng *engine.Engine, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		parser:    parser.New(logger),
		engine:    eng,
		store:     st,
		live:      make(map[string]*engine.Run),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleSubmitRun)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Post("/cancel", s.handleCancelRun)
			})
		})
	})
}

func (s *Server) trackRun(run *engine.Run) {
	s.mu.Lock()
	s.live[run.ID] = run
	s.mu.Unlock()

	go func() {
		run.Wait(context.Background())
		s.mu.Lock()
		delete(s.live, run.ID)
		s.mu.Unlock()
	}()
}

func (s *Server) liveRun(id string) *engine.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live[id]
}
