package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spectragram/benchworker/internal/api/handler"
	"github.com/spectragram/benchworker/internal/api/router"
	"github.com/spectragram/benchworker/internal/api/storage"
	"github.com/spectragram/benchworker/internal/benchmark/dataset"
	"github.com/spectragram/benchworker/internal/benchmark/evaluation"
	"github.com/spectragram/benchworker/internal/benchmark/provider"
	"github.com/spectragram/benchworker/internal/benchmark/runner"
	"github.com/spectragram/benchworker/internal/benchmark/store"
	"github.com/spectragram/benchworker/internal/config"
	"github.com/spectragram/benchworker/internal/queue"
	"github.com/spectragram/benchworker/internal/worker"
	"github.com/spectragram/benchworker/shared/database"
	"github.com/spectragram/benchworker/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("BENCH_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/bench-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting bench worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the benchmark result store
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	resultStore := store.NewStore(dbClient.GetDB(), appLogger.Logger)
	if err := resultStore.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize result store schema: %w", err)
	}

	// Benchmark execution controller
	controller := runner.New(
		resultStore,
		dataset.Default(cfg.Datasets.Root),
		provider.Default(),
		evaluation.Default(),
		runner.Config{
			MaxUtterances: cfg.Worker.MaxUtterances,
			MaxPerSubset:  cfg.Worker.MaxPerSubset,
			WriterBatch:   cfg.Worker.WriterBatch,
		},
		appLogger.Logger,
	)

	// Queue-service client and polling worker
	queueClient := queue.NewClient(queue.Config{
		BaseURL:        cfg.Queue.BaseURL,
		RequestTimeout: cfg.Queue.RequestTimeout,
		RetryMax:       cfg.Queue.RetryMax,
	}, appLogger.Logger)

	workerInstance := worker.New(queueClient, worker.Config{
		JobTypes:  cfg.Queue.JobTypes,
		PollLimit: cfg.Queue.PollLimit,
		IdleSleep: cfg.Queue.IdleSleep,
	}, appLogger.Logger)

	workerInstance.Register("post_onboard_eval", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return controller.Handle(ctx, payload)
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional status HTTP endpoint
	var statusServer *http.Server
	if cfg.Status.Enabled {
		statusServer = startStatusServer(cfg, resultStore, dbClient, workerInstance, appLogger.Logger)
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	appLogger.Info("Bench worker started successfully",
		slog.String("queue", cfg.Queue.BaseURL),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
	}

	// Cancel context to stop the worker; in-flight jobs finish as aborted runs.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGrace)
	defer shutdownCancel()

	select {
	case <-errChan:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Status server shutdown failed",
				slog.Any("error", err),
			)
		}
	}

	appLogger.Info("Bench worker shutdown complete")
	return nil
}

// startStatusServer serves /health, /status, and the read-only result
// endpoints on the configured port.
func startStatusServer(cfg *config.Config, resultStore *store.Store, dbClient *database.Client, w *worker.Worker, log *slog.Logger) *http.Server {
	r := router.SetupRouter(&handler.Dependencies{
		Logger: log,
		Store:  resultStore,
		Runs:   storage.NewStorage(dbClient.GetDB()),
		Stats:  w,
		App: handler.AppInfo{
			Name:        cfg.App.Name,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Status.Port),
		Handler: r,
	}

	go func() {
		log.Info("Status server listening",
			slog.Int("port", cfg.Status.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Status server failed",
				slog.Any("error", err),
			)
		}
	}()
	return srv
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase opens the benchmark result store's database
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}
