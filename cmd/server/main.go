// Package main is the entry point for the layerwise rebalancing advisor.
// It serves saving-plan proposals over HTTP, runs them in the background on
// a bounded job pool and keeps a history of saved runs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/di"
	portfoliohandlers "github.com/aristath/layerwise/internal/modules/portfolio/handlers"
	rebalancinghandlers "github.com/aristath/layerwise/internal/modules/rebalancing/handlers"
	runshandlers "github.com/aristath/layerwise/internal/modules/runs/handlers"
	scoringhandlers "github.com/aristath/layerwise/internal/modules/scoring/api/handlers"
	"github.com/aristath/layerwise/internal/server"
	"github.com/aristath/layerwise/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires databases, repositories, the engine, the job pool and the archive
// 4. Starts the job sweeper and the HTTP server
// 5. Waits for SIGINT/SIGTERM and shuts down in reverse order
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting layerwise")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	if err := container.JobPool.StartSweeper(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job sweeper")
	}

	// A nil archiver must stay a nil interface
	var archiver rebalancinghandlers.RunArchiver
	if container.RunArchiver != nil {
		archiver = container.RunArchiver
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Databases: container.Databases(),
		Jobs:      container.JobPool,
		Gatherer:  container.Registry,
		Modules: []server.RouteRegistrar{
			rebalancinghandlers.NewHandler(
				container.RebalancingService,
				container.PortfolioRepo,
				container.RunRepo,
				archiver,
				container.JobPool,
				log,
			),
			runshandlers.NewHandler(container.RunRepo, log),
			portfoliohandlers.NewHandler(container.PortfolioRepo, log),
			scoringhandlers.NewHandlers(container.RebalancingService.Settings(), container.PortfolioRepo, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before cancelling running jobs
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := container.JobPool.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Job pool did not stop in time")
	}

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}

	log.Info().Msg("Server stopped")
}
