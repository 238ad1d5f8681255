// Package server exposes the evaluation pipeline over HTTP: single and
// batch evaluation, experiment management, reports, health, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelcascade/cascade/internal/auth"
	"github.com/modelcascade/cascade/internal/batch"
	"github.com/modelcascade/cascade/internal/experiment"
	"github.com/modelcascade/cascade/internal/router"
	"github.com/modelcascade/cascade/internal/store"
)

// Deps are the constructed collaborators the handlers dispatch into.
// Metrics is optional; everything else is required.
type Deps struct {
	Router  *router.Router
	Engine  *experiment.Engine
	Batch   *batch.Runner
	Reports store.ReportStore
	Metrics http.Handler
}

type Server struct {
	Router *chi.Mux
	Port   int

	logger *slog.Logger
	deps   Deps
	http   *http.Server
}

// New builds the HTTP surface. Health and metrics stay outside auth so
// probes and scrapers need no credentials; everything under /v1 is
// authenticated when an authenticator is given.
func New(port int, requestTimeout time.Duration, logger *slog.Logger, authenticator *auth.Authenticator, deps Deps) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "cascade")
	})

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
		deps:   deps,
	}

	r.Get("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(authenticator))
		r.Use(TimeoutMiddleware(requestTimeout))

		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/evaluate/batch", s.handleBatchEvaluate)

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", s.handleCreateExperiment)
			r.Get("/", s.handleListExperiments)
			r.Get("/{name}", s.handleGetExperiment)
			r.Post("/{name}/evaluate", s.handleExperimentEvaluate)
			r.Get("/{name}/winner", s.handleExperimentWinner)
		})

		r.Get("/reports/{id}", s.handleGetReport)
	})

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
