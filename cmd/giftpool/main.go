package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"giftpool/internal/app"
	"giftpool/internal/config"
	"giftpool/internal/server"
	"giftpool/internal/util"
	"giftpool/pkg/modelgen"
	"giftpool/pkg/queue"
	"giftpool/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var generator modelgen.Generator
	if cfg.ModelGenURL != "" {
		timeout := modelgen.DefaultTimeout
		if cfg.GenerateTimeoutSeconds > 0 {
			timeout = time.Duration(cfg.GenerateTimeoutSeconds) * time.Second
		}
		generator = modelgen.NewClient(cfg.ModelGenURL, timeout)
	} else {
		slog.Warn("modelGenURL not set, generation runs in demo mode")
	}

	cleanupQueue, err := queue.NewCleanupQueue(queue.CleanupQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Consumer:   util.NewID(),
		MaxRetries: cfg.CleanupMaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init cleanup queue: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Objects:     objects,
		Generator:   generator,
		Cleanup:     cleanupQueue,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		AllowedOrigins:             cfg.Origins(),
		TrustedProxyCIDRs:          cfg.TrustedProxies(),
		UsersRateLimitPerMinute:    cfg.UsersRateLimitPerMinute,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		WrapRateLimitPerMinute:     cfg.WrapRateLimitPerMinute,
		ClaimRateLimitPerMinute:    cfg.ClaimRateLimitPerMinute,
		CleanupRateLimitPerMinute:  cfg.CleanupRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.CleanupConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	cleanupQueue.Start(ctx, concurrency, func(ctx context.Context, objectKey string) error {
		return objects.Delete(ctx, objectKey)
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("giftpool server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
