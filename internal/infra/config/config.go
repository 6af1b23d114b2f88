package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Discord struct {
		Token     string `envconfig:"DISCORD_TOKEN"`
		PublicKey string `envconfig:"DISCORD_PUBLIC_KEY"`
		AppID     string `envconfig:"DISCORD_APP_ID"`
	} `envconfig:""`

	AniList struct {
		URL       string `envconfig:"ANILIST_URL" default:"https://graphql.anilist.co"`
		RetryMax  int    `envconfig:"ANILIST_RETRY_MAX" default:"3"`
		BackoffMS int    `envconfig:"ANILIST_BACKOFF_MS" default:"1000"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Limits struct {
		MaxPulls           int `envconfig:"MAX_PULLS" default:"5"`
		RechargeMins       int `envconfig:"PULL_RECHARGE_MINS" default:"30"`
		StealCooldownHours int `envconfig:"STEAL_COOLDOWN_HOURS" default:"72"`
		InactiveDays       int `envconfig:"STEAL_INACTIVE_DAYS" default:"14"`
	} `envconfig:""`

	Queues struct {
		Rebuild string `envconfig:"REBUILD_QUEUE_KEY" default:"pool_rebuild_jobs"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
