package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"previewd/internal/cache"
	"previewd/internal/config"
	"previewd/internal/observability"
	"previewd/internal/preview"
	"previewd/internal/render"
	"previewd/internal/scanner"
	"previewd/internal/security"
	"previewd/internal/server"
	"previewd/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := observability.InitLogger(cfg.Dev)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracerProvider(ctx, logger)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer observability.ShutdownTracerProvider(context.Background(), tp, logger)

	metrics, err := observability.InitMetrics(nil)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	observability.StartMetricsServer(cfg.Server.MetricsAddr, logger)

	// Shared Redis client for the multi-instance backends.
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" || cfg.Security.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
	}

	blobs, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}

	var index cache.Index
	if cfg.Cache.Backend == "redis" {
		index = cache.NewRedisIndex(redisClient)
	} else {
		index = cache.NewMemoryIndex()
	}
	cacheStore := cache.NewStore(index, blobs, cfg.Cache.DefaultTTL.Std(), cfg.Cache.StatsTopN, logger)
	cacheStore.StartCleanupLoop(ctx, cfg.Cache.CleanupEvery.Std())

	var limiter security.RateLimiter
	var blocklist security.Blocklist
	if cfg.Security.Backend == "redis" {
		limiter = security.NewRedisRateLimiter(redisClient, cfg.Security.RateLimitPerMinute)
		blocklist, err = security.NewRedisBlocklist(redisClient, cfg.Security.BlockedIPs)
		if err != nil {
			logger.Fatal("blocklist init failed", zap.Error(err))
		}
	} else {
		limiter = security.NewMemoryRateLimiter(cfg.Security.RateLimitPerMinute)
		blocklist = security.NewMemoryBlocklist(cfg.Security.BlockedIPs)
	}

	validator := security.NewValidator(&cfg.Security, limiter, blocklist, logger)
	scn := scanner.New(&cfg.Scanner)
	renderer := render.New(&cfg.Render, logger)

	orch := preview.NewOrchestrator(&cfg.Render, validator, scn, renderer, cacheStore, blobs, metrics, logger)
	srv := server.New(orch, cacheStore, validator, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	if cfg.Storage.Backend == "filesystem" {
		// Serve stored artifacts directly in single-node deployments.
		prefix := artifactPathPrefix(cfg.Server.PublicBaseURL)
		mux.Handle(prefix+"/", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(cfg.Storage.BasePath))))
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("previewd listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.BlobStorage, error) {
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
			Prefix:   cfg.Storage.S3.Prefix,
		})
	}
	return storage.NewFilesystemStorage(cfg.Storage.BasePath, cfg.Server.PublicBaseURL), nil
}

// artifactPathPrefix extracts the local mount path from the public
// base URL, e.g. "http://host:8080/artifacts" -> "/artifacts".
func artifactPathPrefix(baseURL string) string {
	if i := strings.Index(baseURL, "://"); i >= 0 {
		rest := baseURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return strings.TrimSuffix(rest[j:], "/")
		}
		return "/artifacts"
	}
	return strings.TrimSuffix(baseURL, "/")
}
