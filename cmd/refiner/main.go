package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"content-autopilot/internal/adapters/engagement"
	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/cache"
	"content-autopilot/internal/infra/config"
	"content-autopilot/internal/infra/db"
	loginfra "content-autopilot/internal/infra/log"
	"content-autopilot/internal/infra/metrics"
	"content-autopilot/internal/infra/queue"
	"content-autopilot/internal/usecase/refine"
	"content-autopilot/internal/usecase/timeslot"
)

const (
	dailySweepInterval = time.Hour
	engagementLookback = 48 * time.Hour
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)
	log := loginfra.Component(logger, "refiner")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("refiner: нет подключения к БД")
	}
	defer pool.Close()

	pg := repo.NewPostgres(pool)
	users := pg.Users()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	appCache := cache.NewRedis(redisClient)

	var retrainQueue domain.RetrainQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitRetrainQueue(cfg.RabbitURL, cfg.Queues.Retrain)
		if err != nil {
			log.Fatal().Err(err).Msg("refiner: нет подключения к брокеру")
		}
		defer rabbit.Close()
		retrainQueue = rabbit
	} else {
		retrainQueue = queue.NewRedisRetrainQueue(redisClient, cfg.Queues.Retrain)
	}

	modelStore := timeslot.NewStore()
	service := refine.NewService(pg.Samples(), pg.Models(), users, pg.Variants(), pg.Slots(), modelStore, appCache, retrainQueue, log, refine.Options{
		HalfLifeDays: cfg.Predictor.HalfLifeDays,
		TopicWindow:  time.Duration(cfg.Ranking.DiversityWindow) * 24 * time.Hour,
	})
	source := engagement.NewLinkedIn(cfg.LinkedIn.BaseURL, cfg.LinkedIn.Timeout)

	metrics.StartServer(ctx, loginfra.Component(logger, "metrics"), cfg.MetricsAddr)

	// Плановые задачи: ежедневное переобучение и выгрузка свежих метрик.
	go func() {
		ticker := time.NewTicker(dailySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := users.ListIDs(ctx)
				if err != nil {
					log.Error().Err(err).Msg("refiner: ошибка выборки пользователей")
					continue
				}
				day := time.Now().UTC()
				for _, userID := range ids {
					if err := service.EnqueueDailyRetrain(ctx, userID, day); err != nil {
						log.Warn().Err(err).Str("user_id", userID).Msg("refiner: плановое переобучение не поставлено")
					}
				}
				if err := service.SyncEngagement(ctx, source, time.Now().UTC().Add(-engagementLookback)); err != nil {
					log.Error().Err(err).Msg("refiner: ошибка синхронизации метрик")
				}
			}
		}
	}()

	service.Run(ctx)
	log.Info().Msg("refiner: остановка")
}
