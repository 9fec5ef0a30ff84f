package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/drishiq/dialogue-engine/internal/admission"
	"github.com/drishiq/dialogue-engine/internal/config"
	"github.com/drishiq/dialogue-engine/internal/executor"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/replay"
	"github.com/drishiq/dialogue-engine/internal/server"
	"github.com/drishiq/dialogue-engine/internal/stage"
	"github.com/drishiq/dialogue-engine/internal/state"
	"github.com/drishiq/dialogue-engine/internal/telemetry"
	"github.com/drishiq/dialogue-engine/internal/tenant"
	"github.com/drishiq/dialogue-engine/internal/trace"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init("ddsa-orchestrator", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("DDSA_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tenants := make([]*tenant.Tenant, 0, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		tenants = append(tenants, &tenant.Tenant{
			ID:             tc.ID,
			Name:           tc.Name,
			DisabledStages: tc.DisabledStages,
			RedactPII:      tc.RedactPII,
		})
	}
	tenantRegistry := tenant.NewRegistry(tenants)

	stageStore, err := registry.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open stage config store: %v", err)
	}
	defer stageStore.Close()

	stateStore, err := state.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer stateStore.Close()

	traceStore, err := trace.NewSQLiteRecorder(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open trace store: %v", err)
	}
	defer traceStore.Close()
	recorder := trace.NewRedactingRecorder(traceStore, tenantRegistry)

	var gate admission.Gate
	if cfg.Admission.DSN != "" {
		pg, err := admission.NewPostgresGate(cfg.Admission.DSN)
		if err != nil {
			log.Fatalf("Failed to open admission store: %v", err)
		}
		defer pg.Close()
		gate = pg
		logger.Info("admission gate: shared postgres store")
	} else {
		gate = admission.NewMemoryGate()
		logger.Info("admission gate: in-memory")
	}

	stages := stage.NewRegistry()
	if err := stage.RegisterBuiltins(stages); err != nil {
		log.Fatalf("Failed to register stages: %v", err)
	}

	registryService := registry.NewService(stageStore, tenantRegistry)

	var execOpts []executor.Option
	if cfg.Pipeline.StageTimeout() > 0 {
		execOpts = append(execOpts, executor.WithStageTimeout(cfg.Pipeline.StageTimeout()))
	}
	exec := executor.New(registryService, gate, stages, stateStore, recorder, logger, execOpts...)

	replayer := replay.NewEngine(recorder)

	srv := server.New(cfg.Server.Port, logger, exec, stageStore, gate, recorder, replayer, stateStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("DDSA orchestrator started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Path),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}
