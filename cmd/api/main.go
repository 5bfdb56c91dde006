// Command api is the HTTP front door: upload intake, process control,
// feedback, and the admin configuration surface.
// The actual document pipeline runs in cmd/worker; this process only
// accepts requests, persists them, and queues work.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/medlingua/pipeline/cache"
	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/httpapi"
	"github.com/medlingua/pipeline/joblifecycle"
	"github.com/medlingua/pipeline/queue"
	"github.com/medlingua/pipeline/resilience"
	"github.com/medlingua/pipeline/storage"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	encryptor, err := storage.NewEncryptor(cfg.Security.EncryptionKey, cfg.Security.EncryptionEnabled)
	if err != nil {
		logger.Error("building encryptor", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := storage.Open(ctx, storage.Config{
		DatabaseURL:     cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, encryptor, logger)
	if err != nil {
		logger.Error("connecting to postgres", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("ensuring schema", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	jobs := storage.NewJobRepository(store)
	configRepo := storage.NewConfigRepository(store)
	feedbackRepo := storage.NewFeedbackRepository(store)

	redisClient, err := core.NewRedisClient(core.RedisClientOptions{RedisURL: cfg.Redis.URL, Logger: logger})
	if err != nil {
		logger.Error("connecting to redis", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer redisClient.Close()

	queueBreaker, err := resilience.NewNamedCircuitBreaker("queue.broker", resilience.WithLogger(logger))
	if err != nil {
		logger.Error("building queue circuit breaker", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	broker := queue.NewBroker(redisClient, cfg.Redis.KeyPrefix, logger, queueBreaker)
	registry := queue.NewWorkerRegistry(redisClient, cfg.Redis.KeyPrefix, logger)

	manager := joblifecycle.New(jobs, broker, registry, logger)

	memCache := cache.New(time.Minute, 5)
	defer memCache.Close()

	var corsCfg *core.CORSConfig
	if cfg.Development.Enabled {
		corsCfg = core.DevelopmentCORSConfig()
	} else if cfg.HTTP.CORS.Enabled {
		corsCfg = &cfg.HTTP.CORS
	}

	server := httpapi.NewServer(jobs, configRepo, feedbackRepo, manager, memCache, broker, registry, logger, nil, corsCfg, cfg.Development.Enabled)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down HTTP server", nil)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("api server starting", map[string]interface{}{"port": cfg.Port})
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("api server stopped", nil)
}
