package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"formledger/api/internal/app"
	"formledger/api/internal/artifact"
	"formledger/api/internal/authpw"
	"formledger/api/internal/cache"
	"formledger/api/internal/config"
	"formledger/api/internal/logging"
	"formledger/api/internal/metrics"
	"formledger/api/internal/search"
	"formledger/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Connect(ctx, store.ConnectOptions{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
		MongoURL:      cfg.MongoURL,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		logger.Fatal("store connection failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() { _ = db.Close(context.Background()) }()

	m := metrics.New()
	deps := app.Deps{
		Hasher:  authpw.NewService(cfg.BcryptCost),
		Metrics: m,
		Logger:  logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer func() { _ = redisCache.Close() }()
		deps.Cache = redisCache
		logger.Info("template cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearch(db), logger.Named("search"))
	deps.Search = searchService
	go searchService.ReindexAll(ctx)

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		logger.Fatal("artifact store setup failed", zap.String("driver", cfg.ArtifactDriver), zap.Error(err))
	}
	deps.Artifacts = artifacts

	service := app.New(db, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithLogger(logger.Named("http")),
		app.WithMetrics(m),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("formledger API listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

func openArtifacts(ctx context.Context, cfg config.Config) (artifact.Store, error) {
	switch cfg.ArtifactDriver {
	case "git":
		if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
			return nil, err
		}
		return artifact.NewGitStore(cfg.ArtifactsDir), nil
	case "minio":
		return artifact.NewMinioStore(ctx, artifact.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return artifact.Nop{}, nil
}
