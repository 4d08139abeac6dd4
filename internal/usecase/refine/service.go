package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
	"content-autopilot/internal/usecase/timeslot"
)

const recentTopicsKeyPrefix = "recent_topics:"

// Options настраивают цикл обратной связи.
type Options struct {
	HalfLifeDays float64
	TopicWindow  time.Duration
}

func (o *Options) fill() {
	if o.HalfLifeDays <= 0 {
		o.HalfLifeDays = timeslot.DefaultHalfLifeDays
	}
	if o.TopicWindow <= 0 {
		o.TopicWindow = 14 * 24 * time.Hour
	}
}

// Service замыкает цикл: принимает метрики, переобучает модель,
// обновляет входы ранкера.
type Service struct {
	samples  domain.SampleRepo
	models   domain.ModelRepo
	users    domain.UserRepo
	variants domain.VariantRepo
	slots    domain.SlotRepo
	store    *timeslot.Store
	cache    domain.Cache
	queue    domain.RetrainQueue
	log      zerolog.Logger
	opts     Options
}

// NewService создаёт сервис обратной связи.
func NewService(samples domain.SampleRepo, models domain.ModelRepo, users domain.UserRepo, variants domain.VariantRepo, slots domain.SlotRepo, store *timeslot.Store, cache domain.Cache, queue domain.RetrainQueue, logger zerolog.Logger, opts Options) *Service {
	opts.fill()
	return &Service{samples: samples, models: models, users: users, variants: variants, slots: slots, store: store, cache: cache, queue: queue, log: logger, opts: opts}
}

// Ingest принимает новые точки метрик и ставит переобучение затронутых
// пользователей в очередь. Точки с нарушенным инвариантом времени отбрасываются.
func (s *Service) Ingest(ctx context.Context, samples []domain.EngagementSample) (int, error) {
	valid := make([]domain.EngagementSample, 0, len(samples))
	for _, sample := range samples {
		if sample.PostID == "" || sample.UserID == "" || sample.SampledAt.Before(sample.PublishedAt) {
			s.log.Warn().Str("post_id", sample.PostID).Msg("refine: точка метрик отброшена")
			continue
		}
		valid = append(valid, sample)
	}
	if len(valid) == 0 {
		return 0, nil
	}
	if err := s.samples.Append(ctx, valid); err != nil {
		return 0, fmt.Errorf("сохранение метрик: %w", err)
	}
	metrics.SamplesIngestedTotal.Add(float64(len(valid)))

	users := make(map[string]struct{})
	for _, sample := range valid {
		users[sample.UserID] = struct{}{}
	}
	for userID := range users {
		job := domain.RetrainJob{
			ID:          uuid.NewString(),
			UserID:      userID,
			Cause:       domain.RetrainCauseSamples,
			RequestedAt: time.Now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// Пропущенное переобучение — деградация качества, не ошибка приёма.
			s.log.Warn().Err(err).Str("user_id", userID).Msg("refine: не удалось поставить переобучение")
		}
	}
	return len(valid), nil
}

// Retrain пересобирает модель пользователя по полной истории и публикует её
// атомарной заменой. Прежняя модель остаётся действующей до полного завершения.
func (s *Service) Retrain(ctx context.Context, userID string) (domain.PredictorModel, error) {
	start := time.Now()
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.PredictorModel{}, fmt.Errorf("профиль пользователя: %w", err)
	}
	history, err := s.samples.ListByUser(ctx, userID, time.Time{})
	if err != nil {
		return domain.PredictorModel{}, fmt.Errorf("история метрик: %w", err)
	}

	model := timeslot.BuildModel(userID, history, user.FollowerCount, time.Now().UTC(), s.opts.HalfLifeDays)
	saved, err := s.models.Save(ctx, model)
	if err != nil {
		return domain.PredictorModel{}, fmt.Errorf("сохранение модели: %w", err)
	}
	s.store.Replace(saved)
	s.refreshRecentTopics(ctx, userID)

	metrics.RetrainDurationSeconds.Observe(time.Since(start).Seconds())
	s.log.Info().
		Str("user_id", userID).
		Int("samples", len(history)).
		Int("posts", saved.SampleCount).
		Int64("version", saved.Version).
		Msg("refine: модель переобучена")
	return saved, nil
}

// RecentTopics возвращает темы выбранных вариантов в скользящем окне.
// Сначала кэш, затем репозиторий.
func (s *Service) RecentTopics(ctx context.Context, userID string) []string {
	if payload, err := s.cache.Get(ctx, recentTopicsKeyPrefix+userID); err == nil {
		var topics []string
		if err := json.Unmarshal(payload, &topics); err == nil {
			return topics
		}
	}
	topics, err := s.variants.ListSelectedTopics(ctx, userID, time.Now().UTC().Add(-s.opts.TopicWindow))
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("refine: не удалось получить недавние темы")
		return nil
	}
	return topics
}

// EnqueueDailyRetrain идемпотентно ставит плановое переобучение: не чаще
// одного раза на пользователя в сутки.
func (s *Service) EnqueueDailyRetrain(ctx context.Context, userID string, day time.Time) error {
	key := fmt.Sprintf("retrain_daily:%s:%s", userID, day.UTC().Format("2006-01-02"))
	return s.cache.Once(ctx, key, 24*time.Hour, func() error {
		return s.queue.Enqueue(ctx, domain.RetrainJob{
			ID:          uuid.NewString(),
			UserID:      userID,
			Cause:       domain.RetrainCauseScheduled,
			RequestedAt: time.Now().UTC(),
		})
	})
}

// Run потребляет очередь переобучения до отмены контекста.
// Сбой одного переобучения не останавливает цикл: старая модель остаётся в силе.
func (s *Service) Run(ctx context.Context) {
	for {
		job, err := s.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("refine: ошибка чтения очереди")
			continue
		}
		if _, err := s.Retrain(ctx, job.UserID); err != nil {
			metrics.RetrainTotal.WithLabelValues(string(job.Cause), "error").Inc()
			s.log.Warn().Err(err).Str("user_id", job.UserID).Msg("refine: переобучение пропущено")
			continue
		}
		metrics.RetrainTotal.WithLabelValues(string(job.Cause), "success").Inc()
	}
}

// SyncEngagement выгружает свежие метрики для недавно опубликованных слотов
// и прогоняет их через приём.
func (s *Service) SyncEngagement(ctx context.Context, source domain.EngagementSource, since time.Time) error {
	slots, err := s.slots.ListPublishedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("опубликованные слоты: %w", err)
	}
	var batch []domain.EngagementSample
	for _, slot := range slots {
		user, err := s.users.Get(ctx, slot.UserID)
		if err != nil {
			s.log.Warn().Err(err).Str("slot_id", slot.SlotID).Msg("refine: пользователь слота недоступен")
			continue
		}
		sample, err := source.FetchSample(ctx, user, slot)
		if err != nil {
			s.log.Warn().Err(err).Str("slot_id", slot.SlotID).Msg("refine: метрики слота недоступны")
			continue
		}
		batch = append(batch, sample)
	}
	if len(batch) == 0 {
		return nil
	}
	_, err = s.Ingest(ctx, batch)
	return err
}

func (s *Service) refreshRecentTopics(ctx context.Context, userID string) {
	topics, err := s.variants.ListSelectedTopics(ctx, userID, time.Now().UTC().Add(-s.opts.TopicWindow))
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("refine: не удалось обновить недавние темы")
		return
	}
	payload, err := json.Marshal(topics)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, recentTopicsKeyPrefix+userID, payload, s.opts.TopicWindow); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("refine: не удалось закэшировать темы")
	}
}
