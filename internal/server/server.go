// Package server exposes the executor over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phobos.org.uk/executor/internal/config"
	"phobos.org.uk/executor/internal/executor"
	"phobos.org.uk/executor/internal/logging"
	"phobos.org.uk/executor/internal/runlog"
	"phobos.org.uk/executor/internal/schema"
)

// APIPrefix is the mount point of the authenticated API.
const APIPrefix = "/api/v1"

// maxBodyBytes bounds request bodies on POST /execute.
const maxBodyBytes = 4 << 20

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Executor *executor.Executor
	Schemas  *schema.Registry
	Runs     *runlog.Store
	Log      *logging.Logger
}

// Server is the executor HTTP service.
type Server struct {
	config    *config.Config
	version   string
	startTime time.Time
	now       func() time.Time

	exec    *executor.Executor
	schemas *schema.Registry
	runs    *runlog.Store
	log     *logging.Logger

	server *http.Server
}

// New creates a Server.
func New(cfg *config.Config, version string, deps Deps) *Server {
	s := &Server{
		config:    cfg,
		version:   version,
		startTime: time.Now(),
		now:       time.Now,
		exec:      deps.Executor,
		schemas:   deps.Schemas,
		runs:      deps.Runs,
		log:       deps.Log,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(APIKeyMiddleware(s.config.APIKey))

		r.Post("/execute", s.handleExecute)

		// Schema endpoints
		r.Get("/schemas", s.handleListSchemas)
		r.Post("/schemas/reload", s.handleReloadSchemas)
		r.Get("/schemas/{name}", s.handleGetSchema)

		r.Get("/stats", s.handleStats)

		// Run record endpoints
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)

		// Logging endpoints
		r.Get("/logs", s.handleLogs)
		r.Get("/logs/stats", s.handleLogStats)
	})

	return r
}

// Start starts the server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Start() error {
	s.log.Info("Claude Executor Service is running on port", map[string]any{
		"port":    s.config.Port,
		"version": s.version,
		"model":   s.config.Executor.Defaults.Model,
	})
	if s.config.APIKey != "" {
		s.log.Info("API key authentication: ENABLED")
	} else {
		s.log.Info("API key authentication: DISABLED")
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// invocations until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.server.Shutdown(ctx)
}
