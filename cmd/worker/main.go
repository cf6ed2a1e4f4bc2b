package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"resume-analyzer/internal/archive"
	"resume-analyzer/internal/cache"
	"resume-analyzer/internal/config"
	"resume-analyzer/internal/genai"
	"resume-analyzer/internal/queue"
	"resume-analyzer/internal/store"
	"resume-analyzer/internal/telemetry"
	"resume-analyzer/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewRedisQueue(redisClient, cfg.VisibilityTimeout)
	resultCache := cache.New(redisClient, cfg.CacheTTL, logger)

	model, err := genai.NewClient(genai.Options{
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.ModelName,
		BaseURL: cfg.ModelBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init model client")
	}

	archiver, err := archive.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init archiver")
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	processor := worker.NewProcessor(cfg, q, st, resultCache, model, archiver, logger)
	logger.Info().
		Dur("visibility", cfg.VisibilityTimeout).
		Int("max_deliveries", cfg.MaxDeliveries).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil {
		logger.Info().Err(err).Msg("worker stopped")
	}
}

func newLogger(env string) zerolog.Logger {
	level := zerolog.InfoLevel
	if env == "dev" {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
