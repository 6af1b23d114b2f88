package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PullTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gacha_pull_total",
		Help: "Количество розыгрышей по исходу",
	}, []string{"outcome"})

	PoolEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gacha_pool_empty_total",
		Help: "Сколько раз сборка пула дала пустой результат",
	})

	MergeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synthesis_merge_total",
		Help: "Количество синтезов по целевой редкости",
	}, []string{"target"})

	StealTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steal_total",
		Help: "Количество попыток кражи по результату",
	}, []string{"result"})

	IndexRebuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "index_rebuild_seconds",
		Help:    "Время пересборки пула одного диапазона",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	InteractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interaction_duration_seconds",
		Help:    "Время обработки Discord-взаимодействия",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PullTotal,
		PoolEmptyTotal,
		MergeTotal,
		StealTotal,
		IndexRebuildSeconds,
		InteractionDuration,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
