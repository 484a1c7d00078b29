package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openv0/openv0/pkg/api"
	"github.com/openv0/openv0/pkg/config"
	"github.com/openv0/openv0/pkg/generation"
	"github.com/openv0/openv0/pkg/llm"
	"github.com/openv0/openv0/pkg/logging"
	"github.com/openv0/openv0/pkg/preview"
	"github.com/openv0/openv0/pkg/projects"
	"github.com/openv0/openv0/pkg/share"
	"github.com/openv0/openv0/pkg/storage"
	"github.com/openv0/openv0/pkg/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)
	logger.WithFields(logrus.Fields{
		"app":         cfg.AppName,
		"version":     cfg.Version,
		"environment": cfg.Environment,
	}).Info("Starting")

	// Initialize Redis store
	redisStore, err := storage.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisStore.Close()

	logger.Info("Connected to Redis")

	// Initialize project database
	db, err := projects.Open(cfg.DatabasePath, logging.NewGormLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	projectRepo := projects.NewRepository(db)
	defer projectRepo.Close()

	logger.WithField("path", cfg.DatabasePath).Info("Database ready")

	shareService, err := share.NewService(cfg.SecretKey, cfg.AccessTokenExpire)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize share links")
	}

	previewService := preview.NewService(redisStore)

	// Generation stays disabled without an API key; endpoints answer 503
	var completer generation.Completer
	if cfg.GenerationEnabled() {
		client := llm.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel)
		completer = client
		logger.WithField("model", client.Model()).Info("OpenRouter client initialized")
	} else {
		logger.Warn("OPENROUTER_API_KEY not set, generation is disabled")
	}
	generationService := generation.NewService(completer, redisStore, previewService, logger)

	// Create and start generation worker
	generationWorker := worker.NewWorker(&worker.Config{
		CheckInterval: cfg.WorkerInterval,
	}, generationService, redisStore, logger)
	go generationWorker.Start()

	// Create API server
	server := api.NewServer(api.Options{
		Config:     cfg,
		Store:      redisStore,
		Projects:   projectRepo,
		Generation: generationService,
		Previews:   previewService,
		Shares:     shareService,
		Logger:     logger,
	})

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	server.RunBackground(bgCtx)

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     server.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: generation status is streamed over SSE
		IdleTimeout: 60 * time.Second,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received, stopping services...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}

	// Stop generation worker
	generationWorker.Stop()

	logger.Info("Shutdown complete")
}
