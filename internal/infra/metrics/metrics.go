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
	DispatchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Попытки публикации по исходу",
	}, []string{"outcome"})

	PublishLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "publish_latency_seconds",
		Help:    "Длительность вызова внешней платформы публикации",
		Buckets: prometheus.DefBuckets,
	})

	SlotsDuePromotedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slots_due_promoted_total",
		Help: "Слоты, переведённые из pending в due",
	})

	RetrainTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrain_total",
		Help: "Запуски переобучения модели по причине и статусу",
	}, []string{"cause", "status"})

	RetrainDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrain_duration_seconds",
		Help:    "Длительность переобучения модели пользователя",
		Buckets: prometheus.DefBuckets,
	})

	SuggestRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suggest_requests_total",
		Help: "Запросы рекомендованного времени публикации",
	})

	ColdStartSuggestionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cold_start_suggestions_total",
		Help: "Рекомендации, выданные по холодному прайору",
	})

	RankBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rank_batches_total",
		Help: "Обработанные пакеты вариантов",
	})

	SamplesIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_samples_ingested_total",
		Help: "Принятые точки метрик вовлечённости",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DispatchAttemptsTotal,
		PublishLatencySeconds,
		SlotsDuePromotedTotal,
		RetrainTotal,
		RetrainDurationSeconds,
		SuggestRequestsTotal,
		ColdStartSuggestionsTotal,
		RankBatchesTotal,
		SamplesIngestedTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
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

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
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

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveDispatchAttempt записывает исход и длительность попытки публикации.
func ObserveDispatchAttempt(outcome string, latency time.Duration) {
	DispatchAttemptsTotal.WithLabelValues(outcome).Inc()
	PublishLatencySeconds.Observe(latency.Seconds())
}
