package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pixelmint/internal/adapter/repo"
	"pixelmint/internal/domain"
	"pixelmint/internal/genclient"
	"pixelmint/internal/infra"
	"pixelmint/internal/notify"
	"pixelmint/internal/orchestrator"
	"pixelmint/internal/providers/image"
	"pixelmint/internal/storage"
	"pixelmint/internal/tempcache"
)

const (
	pollInterval = 2 * time.Second
	jobTimeout   = 10 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: database connection failed")
	}
	defer pool.Close()

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: blob store init failed")
	}
	cache, err := buildCache(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: temp cache init failed")
	}
	go tempcache.RunSweeper(ctx, cache, time.Minute)

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: image provider init failed")
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rc.Close()
	notifier := notify.NewRedisPublisher(rc, logger)

	ledger := repo.NewTokenLedger(pool)
	client := genclient.New(genclient.Options{
		Provider:     provider,
		Ledger:       ledger,
		CostPerImage: cfg.TokenCostPerImage,
		CallsPerMin:  cfg.GenCallsPerMinute,
		RetryBackoff: cfg.GenRetryBackoff,
		CallTimeout:  cfg.GenRequestTimeout,
		Logger:       logger,
	})

	orch := orchestrator.New(
		repo.NewGenerationRepository(pool),
		repo.NewTemplateRepository(pool),
		ledger,
		cache,
		store,
		notifier,
		client,
		logger,
	)
	queue := repo.NewJobQueue(pool)

	logger.Info().Int("workers", cfg.WorkerCount).Str("provider", cfg.ImageProvider).Msg("worker: starting")

	var wg sync.WaitGroup
	for i := 1; i <= cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, queue, orch, cfg.JobBackoffBase, logger)
		}(i)
	}
	wg.Wait()
	logger.Info().Msg("worker: shutdown complete")
}

func runWorker(ctx context.Context, id int, queue domain.JobQueue, orch *orchestrator.Orchestrator, backoffBase time.Duration, logger zerolog.Logger) {
	log := logger.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := queue.Claim(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				log.Error().Err(err).Msg("worker: claim failed")
			}
			if !idle(ctx, pollInterval) {
				return
			}
			continue
		}

		log.Info().
			Str("job_id", job.ID).
			Str("generation_id", job.Payload.GenerationID).
			Int("attempt", job.AttemptCount).
			Msg("worker: job claimed")

		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		execErr := orch.Execute(jobCtx, job)
		cancel()

		// Outcome writes survive shutdown so a finished run is never
		// reclaimed as abandoned.
		doneCtx := context.WithoutCancel(ctx)
		if execErr == nil {
			if err := queue.Complete(doneCtx, job.ID); err != nil {
				log.Error().Err(err).Str("job_id", job.ID).Msg("worker: complete failed")
			}
			continue
		}

		attempt := job.AttemptCount
		if !orchestrator.Retryable(execErr) {
			attempt = job.MaxAttempts
		}
		retrying, err := queue.Fail(doneCtx, job.ID, attempt, job.MaxAttempts, backoffBase, execErr.Error())
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("worker: fail transition failed")
			continue
		}
		log.Warn().Err(execErr).
			Str("job_id", job.ID).
			Int("attempt", job.AttemptCount).
			Bool("retrying", retrying).
			Msg("worker: job attempt failed")
	}
}

func idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
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

func buildProvider(cfg *infra.Config) (image.Generator, error) {
	switch cfg.ImageProvider {
	case "openai":
		return image.NewOpenAIProvider(image.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIImageModel,
		})
	case "gemini", "":
		return image.NewGeminiProvider(image.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
}
