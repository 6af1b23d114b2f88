package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/leoodz/fable/internal/adapters/anilist"
	"github.com/leoodz/fable/internal/infra/cache"
	"github.com/leoodz/fable/internal/infra/config"
	"github.com/leoodz/fable/internal/infra/log"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/infra/queue"
	"github.com/leoodz/fable/internal/usecase/indexer"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	bracketCache := cache.NewRedisBracketCache(redisClient)
	appCache := cache.NewRedis(redisClient)
	rebuildQueue := queue.NewRedisRebuildQueue(redisClient, cfg.Queues.Rebuild)

	catalog := anilist.NewClient(cfg.AniList.URL, cfg.AniList.RetryMax, time.Duration(cfg.AniList.BackoffMS)*time.Millisecond, logger)
	service := indexer.NewService(catalog, bracketCache, logger)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	// Раз в сутки один из инстансов ставит полную пересборку в очередь.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			err := appCache.Once(ctx, "index:rebuild:daily", 24*time.Hour, func() error {
				return indexer.EnqueueAll(ctx, rebuildQueue)
			})
			if err != nil {
				logger.Error().Err(err).Msg("не удалось поставить пересборку в очередь")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	logger.Info().Msg("индексатор запущен")
	if err := service.Run(ctx, rebuildQueue); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("индексатор остановлен с ошибкой")
	}
	logger.Info().Msg("остановка индексатора")
}
