// Package main provides the HTTP server for compms2 sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/db"
	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/server"
	"github.com/524D/compareMS2/internal/service"
)

const version = "0.1.0"

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all persisted sessions on startup (testing only)")
	origins := flag.String("origins", "", "comma-separated CORS origins (default: any)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("starting compms2-server",
		"version", version,
		"port", cfg.ServerPort,
		"compare_exe", cfg.CompareExe,
		"distance_exe", cfg.DistanceExe,
		"persist", cfg.PersistSessions,
	)

	parallel.Init(cfg.MaxParallel)
	slots := parallel.Default()
	collector := metrics.NewCollector()

	// Connect to database when sessions are persisted
	var store service.SessionStore
	if cfg.PersistSessions {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		dbClient, err := openStore(ctx, cfg, *wipeDB)
		cancel()
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("closing database connection")
			_ = dbClient.Close(context.Background())
		}()
		store = dbClient
	}

	manager := service.NewManager(store)
	executor := compare.NewExecutor(cfg.CompareExe, slots, collector)
	trees := service.NewTreeService(manager, executor, distmatrix.NewGenerator(cfg.DistanceExe), collector)
	species := service.NewSpeciesService(manager, executor, collector)

	if err := manager.ResumeIncompleteSessions(context.Background(), trees); err != nil {
		logger.Warn("failed to resume incomplete sessions", "error", err)
	}

	var allowed []string
	if *origins != "" {
		allowed = strings.Split(*origins, ",")
	}
	srv := server.New(server.Deps{
		Manager:        manager,
		Trees:          trees,
		Species:        species,
		Executor:       executor,
		Slots:          slots,
		Metrics:        collector,
		Logger:         logger,
		AllowedOrigins: allowed,
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     srv.Handler(),
		ReadTimeout: 5 * time.Second,
		// Event streams stay open for the length of a session.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api/sessions", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down server...", "signal", sig)

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stopping sessions closes their event streams, which lets Shutdown finish.
	manager.StopAll(ctx)
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openStore connects to SurrealDB and prepares the session table.
func openStore(ctx context.Context, cfg config.Config, wipe bool) (*db.Client, error) {
	dbClient, err := db.NewClient(ctx, db.ConfigFrom(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if wipe {
		if err := dbClient.WipeData(ctx); err != nil {
			_ = dbClient.Close(ctx)
			return nil, fmt.Errorf("wipe database: %w", err)
		}
	}
	return dbClient, nil
}
