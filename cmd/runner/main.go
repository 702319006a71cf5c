// Package main wires together the browser-runner service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/api"
	"github.com/flowforge/browser-runner/internal/browser"
	"github.com/flowforge/browser-runner/internal/clock/system"
	"github.com/flowforge/browser-runner/internal/config"
	"github.com/flowforge/browser-runner/internal/database"
	"github.com/flowforge/browser-runner/internal/executor"
	"github.com/flowforge/browser-runner/internal/llm"
	"github.com/flowforge/browser-runner/internal/logging"
	"github.com/flowforge/browser-runner/internal/metrics"
	"github.com/flowforge/browser-runner/internal/probe"
	"github.com/flowforge/browser-runner/internal/processor"
	"github.com/flowforge/browser-runner/internal/queue"
	queuememory "github.com/flowforge/browser-runner/internal/queue/memory"
	"github.com/flowforge/browser-runner/internal/report"
	"github.com/flowforge/browser-runner/internal/storage"
	storagememory "github.com/flowforge/browser-runner/internal/storage/memory"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueProvider, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}
	defer queueProvider.Close() //nolint:errcheck

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}

	attempts, err := buildDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer attempts.Close() //nolint:errcheck

	reporter, err := report.NewHTTPClient(report.Config{
		BaseURL:     cfg.Report.BaseURL,
		Timeout:     time.Duration(cfg.Report.TimeoutSeconds) * time.Second,
		MaxRetries:  cfg.Report.MaxRetries,
		BackoffBase: time.Duration(cfg.Report.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Report.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("report"))
	if err != nil {
		logger.Fatal("reporter init failed", zap.Error(err))
	}

	model := buildLLM(ctx, cfg, logger)

	engine, err := browser.NewChromedpEngine(browser.Config{
		MaxSessions: cfg.Browser.MaxSessions,
		DomainQPS:   cfg.Browser.DomainQPS,
		UserAgent:   cfg.Browser.UserAgent,
		Headless:    cfg.Browser.Headless,
	}, logger.Named("browser"))
	if err != nil {
		logger.Fatal("browser engine init failed", zap.Error(err))
	}

	agent := browser.NewLLMAgent(model, logger.Named("agent"), cfg.Browser.AgentMaxActions)
	prober := probe.New(probe.Config{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   15 * time.Second,
	})

	proc := processor.New(
		queueProvider,
		store,
		reporter,
		executor.NewAutomationExecutor(engine, agent, logger.Named("automation")),
		executor.NewScanExecutor(engine, model, prober, logger.Named("scan")),
		attempts,
		system.New(),
		processor.Config{
			Concurrency:   cfg.Processor.Concurrency,
			BatchSize:     cfg.Processor.BatchSize,
			PollWait:      cfg.PollWait(),
			Grace:         cfg.Grace(),
			StoragePrefix: cfg.Storage.Prefix,
		},
		logger.Named("processor"),
	)

	apiServer := api.NewServer(queueProvider, attempts, proc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	processorDone := make(chan struct{})
	go func() {
		logger.Info("processor started",
			zap.Int("concurrency", cfg.Processor.Concurrency),
			zap.String("queue", cfg.Queue.Provider),
		)
		proc.Run(ctx)
		close(processorDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-processorDone:
	case <-shutdownCtx.Done():
		logger.Warn("processor drain timed out")
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("browser shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (queue.Provider, error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		return queue.NewPubSubProvider(ctx, cfg.Queue.ProjectID, cfg.Queue.SubscriptionID, cfg.Queue.TopicID, logger.Named("pubsub"))
	case "nats":
		return queue.NewNATSProvider(queue.NATSConfig{
			URL:     cfg.Queue.NATSURL,
			Subject: cfg.Queue.NATSSubject,
			Durable: cfg.Queue.NATSDurable,
			AckWait: cfg.Visibility(),
		})
	case "memory":
		return queuememory.NewQueue(cfg.Visibility(), 5), nil
	case "noop":
		return &queue.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		return storage.NewGCSProvider(ctx, cfg.Storage.GCSBucket, logger.Named("gcs"))
	case "memory":
		return storagememory.NewBlobStore(), nil
	case "noop":
		return &storage.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildDatabase(ctx context.Context, cfg config.Config) (database.Provider, error) {
	switch cfg.DB.Provider {
	case "postgres":
		return database.NewPostgresProvider(ctx, cfg.DB.DSN)
	case "noop":
		return &database.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildLLM(ctx context.Context, cfg config.Config, logger *zap.Logger) llm.Client {
	if cfg.LLM.APIKey == "" {
		logger.Warn("no llm api key configured, agent and goal extraction disabled")
		return llm.Disabled{}
	}
	client, err := llm.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		logger.Warn("llm init failed, agent and goal extraction disabled", zap.Error(err))
		return llm.Disabled{}
	}
	return client
}
