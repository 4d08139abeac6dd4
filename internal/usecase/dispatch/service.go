package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
	"content-autopilot/internal/usecase/schedule"
)

// Options настраивают цикл диспетчеризации.
type Options struct {
	PublishTimeout time.Duration
	ReclaimAfter   time.Duration
	MaxAttempts    int
}

func (o *Options) fill() {
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 30 * time.Second
	}
	if o.ReclaimAfter <= 0 {
		o.ReclaimAfter = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
}

// Service выполняет цикл: продвинуть наступившие слоты, захватить, опубликовать.
type Service struct {
	slots     domain.SlotRepo
	variants  domain.VariantRepo
	users     domain.UserRepo
	publisher domain.Publisher
	log       zerolog.Logger
	opts      Options
}

// NewService создаёт диспетчер.
func NewService(slots domain.SlotRepo, variants domain.VariantRepo, users domain.UserRepo, publisher domain.Publisher, logger zerolog.Logger, opts Options) *Service {
	opts.fill()
	return &Service{slots: slots, variants: variants, users: users, publisher: publisher, log: logger, opts: opts}
}

// RunCycle обрабатывает один проход диспетчера и возвращает число успешных публикаций.
// Конкурирующие экземпляры безопасны: захват слота атомарен, проигравший пропускает слот.
func (s *Service) RunCycle(ctx context.Context, now time.Time) (int, error) {
	promoted, err := s.slots.MarkDueBatch(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("продвижение наступивших слотов: %w", err)
	}
	if promoted > 0 {
		metrics.SlotsDuePromotedTotal.Add(float64(promoted))
	}

	reclaimBefore := now.Add(-s.opts.ReclaimAfter)
	claimable, err := s.slots.ListClaimable(ctx, now, reclaimBefore)
	if err != nil {
		return 0, fmt.Errorf("выборка слотов к публикации: %w", err)
	}

	published := 0
	seen := make(map[string]struct{}, len(claimable))
	for _, slot := range claimable {
		// Не больше одной попытки на пост за проход.
		if _, ok := seen[slot.PostID]; ok {
			continue
		}
		seen[slot.PostID] = struct{}{}

		claimed, ok, err := s.slots.Claim(ctx, slot.SlotID, now, reclaimBefore)
		if err != nil {
			s.log.Error().Err(err).Str("slot_id", slot.SlotID).Msg("dispatch: ошибка захвата слота")
			continue
		}
		if !ok {
			// Слот достался другому диспетчеру.
			continue
		}
		if s.dispatchOne(ctx, claimed) {
			published++
		}
	}
	return published, nil
}

// dispatchOne публикует захваченный слот и применяет исход к состоянию.
func (s *Service) dispatchOne(ctx context.Context, slot domain.ScheduleSlot) bool {
	start := time.Now()
	externalID, err := s.publish(ctx, slot)
	latency := time.Since(start)

	outcome := "published"
	if err != nil {
		if slot.Attempts >= s.opts.MaxAttempts {
			outcome = "failed"
		} else {
			outcome = "retry"
		}
	}
	metrics.ObserveDispatchAttempt(outcome, latency)

	entry := s.log.Info()
	if err != nil {
		entry = s.log.Error().Err(err)
	}
	entry.
		Str("slot_id", slot.SlotID).
		Str("post_id", slot.PostID).
		Int("attempt", slot.Attempts).
		Str("outcome", outcome).
		Dur("latency", latency).
		Msg("dispatch: попытка публикации")

	if err == nil {
		applied, applyErr := s.slots.FinishPublished(ctx, slot.SlotID, externalID, time.Now().UTC())
		if applyErr != nil {
			s.log.Error().Err(applyErr).Str("slot_id", slot.SlotID).Msg("dispatch: не удалось зафиксировать публикацию")
			return false
		}
		if !applied {
			// Слот успел стать терминальным — терминальное состояние не перезаписываем.
			s.log.Warn().Str("slot_id", slot.SlotID).Msg("dispatch: исход не применён, слот уже завершён")
			return false
		}
		return true
	}

	if slot.Attempts >= s.opts.MaxAttempts {
		if _, applyErr := s.slots.FinishFailed(ctx, slot.SlotID, err.Error()); applyErr != nil {
			s.log.Error().Err(applyErr).Str("slot_id", slot.SlotID).Msg("dispatch: не удалось зафиксировать отказ")
		}
		return false
	}
	nextAt := time.Now().UTC().Add(schedule.RetryDelay(slot.Attempts))
	if _, applyErr := s.slots.Retry(ctx, slot.SlotID, nextAt, err.Error()); applyErr != nil {
		s.log.Error().Err(applyErr).Str("slot_id", slot.SlotID).Msg("dispatch: не удалось запланировать повтор")
	}
	return false
}

func (s *Service) publish(ctx context.Context, slot domain.ScheduleSlot) (string, error) {
	variant, err := s.variants.GetSelected(ctx, slot.PostID)
	if err != nil {
		return "", fmt.Errorf("выбранный вариант поста: %w", err)
	}
	user, err := s.users.Get(ctx, slot.UserID)
	if err != nil {
		return "", fmt.Errorf("профиль пользователя: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	return s.publisher.Publish(pubCtx, user, variant)
}
