package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pixelmint/internal/adapter/repo"
	"pixelmint/internal/http/handlers"
	"pixelmint/internal/http/httpapi"
	"pixelmint/internal/infra"
	"pixelmint/internal/notify"
	"pixelmint/internal/storage"
	"pixelmint/internal/tempcache"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: database connection failed")
	}
	defer pool.Close()

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: blob store init failed")
	}
	cache, err := buildCache(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: temp cache init failed")
	}
	go tempcache.RunSweeper(ctx, cache, time.Minute)

	hub := notify.NewHub(logger)
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rc.Close()
	go notify.RunRedisSubscriber(ctx, rc, hub, logger)

	app := &handlers.App{
		Gens:           repo.NewGenerationRepository(pool),
		Ledger:         repo.NewTokenLedger(pool),
		Uploads:        repo.NewUploadRepository(pool),
		Cache:          cache,
		Store:          store,
		Hub:            hub,
		Logger:         logger,
		CostPerImage:   cfg.TokenCostPerImage,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestsPerMin: cfg.RateLimitPerMin,
		Logger:         logger,
	})
	srv := infra.NewHTTPServer(cfg, router)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: shutdown error")
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("api: listening")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api: server failed")
	}
	logger.Info().Msg("api: shutdown complete")
}

func buildStore(cfg *infra.Config) (storage.BlobStore, error) {
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}

func buildCache(cfg *infra.Config, logger infra.Logger) (tempcache.Cache, error) {
	if cfg.TempCacheDriver == "redis" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return tempcache.NewRedisCache(rc, cfg.TempCachePath, cfg.TempCacheTTL, logger)
	}
	return tempcache.NewMemoryCache(cfg.TempCachePath, cfg.TempCacheTTL, logger)
}
