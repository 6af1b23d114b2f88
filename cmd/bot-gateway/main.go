package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/leoodz/fable/internal/adapters/anilist"
	"github.com/leoodz/fable/internal/adapters/discord"
	"github.com/leoodz/fable/internal/adapters/repo"
	"github.com/leoodz/fable/internal/infra/cache"
	"github.com/leoodz/fable/internal/infra/config"
	"github.com/leoodz/fable/internal/infra/db"
	httpinfra "github.com/leoodz/fable/internal/infra/http"
	"github.com/leoodz/fable/internal/infra/log"
	"github.com/leoodz/fable/internal/infra/metrics"
	"github.com/leoodz/fable/internal/usecase/gacha"
	"github.com/leoodz/fable/internal/usecase/packs"
	"github.com/leoodz/fable/internal/usecase/steal"
	"github.com/leoodz/fable/internal/usecase/synthesis"
	"github.com/leoodz/fable/internal/usecase/trade"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	publicKey, err := hex.DecodeString(cfg.Discord.PublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		logger.Fatal().Err(err).Msg("некорректный публичный ключ Discord")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool, cfg.Limits.MaxPulls)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось применить схему БД")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	bracketCache := cache.NewRedisBracketCache(redisClient)
	appCache := cache.NewRedis(redisClient)

	catalog := anilist.NewClient(cfg.AniList.URL, cfg.AniList.RetryMax, time.Duration(cfg.AniList.BackoffMS)*time.Millisecond, logger)
	packService := packs.NewService(repoAdapter, appCache, logger)
	poolBuilder := gacha.NewPoolBuilder(bracketCache, packService, logger)
	resolver := gacha.NewResolver(poolBuilder, catalog, packService, repoAdapter, logger, cfg.Limits.MaxPulls, time.Duration(cfg.Limits.RechargeMins)*time.Minute)
	synthesisService := synthesis.NewService(repoAdapter, resolver, logger)
	stealService := steal.NewService(repoAdapter, logger, time.Duration(cfg.Limits.StealCooldownHours)*time.Hour, time.Duration(cfg.Limits.InactiveDays)*24*time.Hour)
	tradeService := trade.NewService(repoAdapter, logger)

	h := discord.NewHandler(logger, resolver, synthesisService, stealService, tradeService, packService, repoAdapter)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	srv := httpinfra.NewServer(logger)
	srv.Router.Post("/discord/interactions", func(w http.ResponseWriter, r *http.Request) {
		if !discordgo.VerifyInteraction(r, ed25519.PublicKey(publicKey)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var interaction discordgo.Interaction
		if err := json.NewDecoder(r.Body).Decode(&interaction); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := h.Handle(r.Context(), &interaction)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error().Err(err).Msg("не удалось записать ответ вебхука")
		}
	})

	go func() {
		if err := srv.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бот-гейтвея")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
