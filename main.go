package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/husmancristian/qafastweb/pkg/ai"
	"github.com/husmancristian/qafastweb/pkg/api"
	"github.com/husmancristian/qafastweb/pkg/config"
	"github.com/husmancristian/qafastweb/pkg/dashboard"
	"github.com/husmancristian/qafastweb/pkg/executor"
	"github.com/husmancristian/qafastweb/pkg/pipeline"
	"github.com/husmancristian/qafastweb/pkg/prompt"
	"github.com/husmancristian/qafastweb/pkg/queue"
	"github.com/husmancristian/qafastweb/pkg/queue/rabbitmq"
	"github.com/husmancristian/qafastweb/pkg/storage"
	"github.com/husmancristian/qafastweb/pkg/storage/memory"
	"github.com/husmancristian/qafastweb/pkg/storage/persistent"
	"github.com/joho/godotenv"
)

func main() {

	// --- Logger Setup ---
	logLevel := new(slog.LevelVar) // Info until the configuration is read
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Load .env file (for local development only) ---
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			logger.Info("Could not load .env file, relying on environment variables", slog.String("error", err.Error()))
		} else {
			logger.Info("Loaded configuration from .env file for local development")
		}
	}

	// --- Configuration Loading ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	}

	logger.Info("Starting QA automation server...",
		slog.String("log_level", cfg.LogLevel),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Bool("async_executions", cfg.RabbitMQ_URL != ""),
	)

	// --- Context for graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Dependency Injection ---
	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	aiClient := ai.NewClient(cfg.AI_BaseURL, cfg.AI_APIKey,
		ai.WithLogger(logger),
		ai.WithRateLimit(cfg.AI_RateLimit),
		ai.WithAgentProfile(cfg.AI_AgentProfile),
	)
	if cfg.AI_WebhookURL != "" {
		registerWebhook(ctx, aiClient, cfg.AI_WebhookURL, logger)
	}
	executorClient := executor.NewClient(cfg.ExecutorURL, executor.WithLogger(logger))
	pipe := pipeline.New(
		store,
		prompt.NewBuilder(cfg.PromptTemplatesDir, logger),
		aiClient,
		executorClient,
		pipeline.Options{
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.PollMaxAttempts,
			Headless:     cfg.ExecutorHeadless,
		},
		logger,
	)

	// The queue is optional; without it only synchronous executions are served.
	var queueManager queue.Manager
	var workers sync.WaitGroup
	if cfg.RabbitMQ_URL != "" {
		rmq, err := rabbitmq.NewManager(cfg.RabbitMQ_URL, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Error("Failed to initialize RabbitMQ queue manager", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()
		queueManager = rmq

		worker := pipeline.NewWorker(rmq, pipe, cfg.WorkerConcurrency, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(ctx); err != nil {
				logger.Error("Execution worker stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		logger.Warn("RABBITMQ_URL not set, asynchronous executions disabled")
	}

	apiHandler := api.NewAPI(store, pipe, dashboard.NewService(store, logger), queueManager, logger, cfg)
	router := api.SetupRouter(apiHandler, cfg)
	logger.Info("API router configured")

	// A synchronous execution may poll for the full ceiling and then wait on the agent.
	executionBudget := cfg.PollInterval*time.Duration(cfg.PollMaxAttempts) + executor.DefaultTimeout + time.Minute

	// --- HTTP Server Setup ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second), // Slightly longer than handler timeout
		WriteTimeout: executionBudget,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// --- Start Server Goroutine ---
	go func() {
		var err error
		if cfg.TLSEnabled() {
			logger.Info("Server starting on address", "protocol", "https", "address", server.Addr)
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			logger.Info("Server starting on address", "protocol", "http", "address", server.Addr)
			err = server.ListenAndServe()
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			logger.Error("Port is already in use. Is another instance of the server already running?", slog.String("address", server.Addr))
			stop()
		} else if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start or unexpectedly closed", slog.String("error", err.Error()))
			stop()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	// --- Graceful Shutdown ---
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Server gracefully stopped")
	}

	// In-flight queued attempts run to completion so their results are recorded.
	workers.Wait()

	logger.Info("Shutdown complete.")
}

// registerWebhook subscribes url to AI task notifications. Executions poll
// regardless, so a failure is only logged.
func registerWebhook(ctx context.Context, client *ai.Client, url string, logger *slog.Logger) {
	regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	wh, err := client.RegisterWebhook(regCtx, url)
	if err != nil {
		logger.Warn("Failed to register AI webhook", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	logger.Info("Registered AI webhook", slog.String("url", url), slog.String("webhook_id", wh.ID))
}

func newStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil
	default:
		return persistent.NewStore(
			cfg.Postgres_DSN,
			cfg.MinIO_Endpoint,
			cfg.MinIO_AccessKey,
			cfg.MinIO_SecretKey,
			cfg.MinIO_BucketName,
			cfg.MinIO_UseSSL,
			logger,
		)
	}
}
