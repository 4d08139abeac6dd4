package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"content-autopilot/internal/adapters/publisher"
	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/infra/config"
	"content-autopilot/internal/infra/db"
	loginfra "content-autopilot/internal/infra/log"
	"content-autopilot/internal/infra/metrics"
	"content-autopilot/internal/usecase/dispatch"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)
	log := loginfra.Component(logger, "dispatcher")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	defer pool.Close()

	pg := repo.NewPostgres(pool)
	linkedinPublisher := publisher.NewLinkedIn(cfg.LinkedIn.BaseURL, cfg.LinkedIn.Timeout)
	service := dispatch.NewService(pg.Slots(), pg.Variants(), pg.Users(), linkedinPublisher, log, dispatch.Options{
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		ReclaimAfter:   cfg.Dispatch.ReclaimAfter,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
	})

	metrics.StartServer(ctx, loginfra.Component(logger, "metrics"), cfg.MetricsAddr)

	ticker := time.NewTicker(cfg.Dispatch.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher: остановка")
			return
		case <-ticker.C:
			published, err := service.RunCycle(ctx, time.Now().UTC())
			if err != nil {
				log.Error().Err(err).Msg("dispatcher: ошибка цикла")
				continue
			}
			if published > 0 {
				log.Info().Int("published", published).Msg("dispatcher: цикл завершён")
			}
		}
	}
}
