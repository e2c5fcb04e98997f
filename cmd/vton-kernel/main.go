package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manthysbr/aule-vton/internal/adapters/providers"
	appconfig "github.com/manthysbr/aule-vton/internal/config"
	"github.com/manthysbr/aule-vton/internal/core/ports"
	"github.com/manthysbr/aule-vton/internal/core/services"
	"github.com/manthysbr/aule-vton/pkg/kernel"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults to $VTON_CONFIG)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting vton kernel")

	if err := run(logger, *configPath); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("config loaded", cfg.LogAttrs()...)

	set, err := providers.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init providers: %w", err)
	}
	defer set.Close()

	if !set.Backend.CheckAvailability(ctx) {
		logger.Warn("comfyui not reachable, try-on requests will fail until it is up", "host", cfg.ComfyUI.Host)
	}

	events := services.NewEventBus(logger)

	orchestrator := services.NewOrchestrator(logger, services.OrchestratorDeps{
		Backend:   set.Backend,
		Extractor: set.Extractor,
		Sessions:  set.Sessions,
		Artifacts: set.Artifacts,
		Builder:   services.NewWorkflowBuilder(providers.WorkflowConfig(cfg.Workflow)),
		Limiter:   services.NewGenerationLimiter(logger, int64(cfg.ComfyUI.MaxConcurrentJobs)),
		Clock:     ports.SystemClock{},
		Events:    events,
	}, providers.OrchestratorConfig(cfg))

	apiServer, err := kernel.NewServer(logger, orchestrator, events, kernel.Options{
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
