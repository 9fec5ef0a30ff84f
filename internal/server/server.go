// Package server exposes the orchestrator over HTTP: one pipeline
// execution endpoint and the administrative surface for stage
// configuration, kill switches, traces, replay, and thread state.
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

	"github.com/drishiq/dialogue-engine/internal/admission"
	"github.com/drishiq/dialogue-engine/internal/executor"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/replay"
	"github.com/drishiq/dialogue-engine/internal/state"
	"github.com/drishiq/dialogue-engine/internal/trace"
)

// Server is the HTTP front of the orchestrator.
type Server struct {
	Router *chi.Mux

	port     int
	logger   *slog.Logger
	executor *executor.Executor
	stages   registry.ConfigStore
	gate     admission.Gate
	traces   trace.Recorder
	replayer *replay.Engine
	states   state.Store

	httpServer *http.Server
}

// New builds the router with the standard middleware chain.
func New(port int, logger *slog.Logger, exec *executor.Executor, stages registry.ConfigStore, gate admission.Gate, traces trace.Recorder, replayer *replay.Engine, states state.Store) *Server {
	s := &Server{
		port:     port,
		logger:   logger,
		executor: exec,
		stages:   stages,
		gate:     gate,
		traces:   traces,
		replayer: replayer,
		states:   states,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(60 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "ddsa-server")
	})

	r.Post("/v1/pipeline/run", s.handleRunPipeline)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/stages", s.handleListStages)
		r.Post("/stages", s.handleCreateStage)
		r.Get("/stages/{stageID}", s.handleGetStage)
		r.Put("/stages/{stageID}", s.handleUpdateStage)
		r.Delete("/stages/{stageID}", s.handleDeleteStage)
		r.Post("/stages/validate", s.handleValidateStages)

		r.Get("/kill-switch", s.handleGetKillSwitches)
		r.Post("/kill-switch", s.handleSetKillSwitch)

		r.Get("/trace", s.handleGetTrace)
		r.Get("/replay", s.handleReplay)
		r.Post("/replay", s.handleReplay)

		r.Get("/state/{threadID}", s.handleGetState)
	})

	s.Router = r
	return s
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router,
	}

	s.logger.Info("starting server", slog.Int("port", s.port))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
