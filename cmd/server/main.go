/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the day-service back office server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, then the config file and DAYSERVICE_* overrides
  2. Build the zap logger
  3. Open the store (SQLite, or in-memory when db.path is empty)
  4. Register Prometheus metrics
  5. Create API handler, router and alert scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the alert scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with defaults (./data/dayservice.db)
  ./server

  # Run with a config file and an in-memory SQLite database
  DAYSERVICE_DB_PATH=:memory: ./server -config=./config.yaml

  # Run on a different port
  DAYSERVICE_SERVER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kizuna/dayservice/api"
	"github.com/kizuna/dayservice/config"
	"github.com/kizuna/dayservice/logger"
	"github.com/kizuna/dayservice/metrics"
	"github.com/kizuna/dayservice/store"
	"github.com/kizuna/dayservice/store/memory"
	"github.com/kizuna/dayservice/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	rates, err := cfg.Rates()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Initialize handler
	handler := api.NewHandler(st, api.Options{
		Rates:        rates,
		Extensions:   cfg.Extension,
		Calendar:     cfg.Calendar(),
		Location:     loc,
		Workers:      cfg.Billing.Workers,
		LookbackDays: cfg.Scheduler.LookbackDays,
		Logger:       log,
		Metrics:      collector,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowOrigins: cfg.Server.AllowOrigins,
		Gatherer:     reg,
	})

	scheduler := api.NewAlertScheduler(st, cfg.Scheduler, loc, log, collector)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// openStore opens SQLite at cfg.Path, creating its directory, or the
// in-memory store when the path is empty.
func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Path == "" {
		return memory.New(), nil
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}
