package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"content-autopilot/internal/domain"
)

const (
	retryBaseDelay = 5 * time.Minute
	retryMaxDelay  = time.Hour
)

// RetryDelay возвращает сдвиг времени публикации перед повторной попыткой.
// Экспоненциальный рост от 5 минут с потолком в час.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

// Service управляет очередью публикаций.
type Service struct {
	slots    domain.SlotRepo
	variants domain.VariantRepo
}

// NewService создаёт сервис очереди.
func NewService(slots domain.SlotRepo, variants domain.VariantRepo) *Service {
	return &Service{slots: slots, variants: variants}
}

// Enqueue ставит пост в очередь. У поста должен быть выбранный вариант;
// повторная постановка при активном слоте отклоняется.
func (s *Service) Enqueue(ctx context.Context, postID, userID string, at time.Time) (domain.ScheduleSlot, error) {
	if _, err := s.variants.GetSelected(ctx, postID); err != nil {
		return domain.ScheduleSlot{}, fmt.Errorf("выбранный вариант поста: %w", err)
	}
	slot := newSlot(postID, userID, at)
	if err := s.slots.Create(ctx, slot); err != nil {
		return domain.ScheduleSlot{}, err
	}
	return slot, nil
}

// Reschedule атомарно отменяет активный слот поста и создаёт новый.
func (s *Service) Reschedule(ctx context.Context, postID string, at time.Time) (domain.ScheduleSlot, error) {
	active, err := s.slots.GetActiveByPost(ctx, postID)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	return s.slots.RescheduleActive(ctx, postID, newSlot(postID, active.UserID, at))
}

// Cancel отменяет слот. Слот в терминальном состоянии неизменяем,
// захваченный диспетчером — дорабатывает до исхода.
func (s *Service) Cancel(ctx context.Context, slotID string) error {
	return s.slots.Cancel(ctx, slotID)
}

// Calendar возвращает активные слоты пользователя по возрастанию времени.
func (s *Service) Calendar(ctx context.Context, userID string) ([]domain.ScheduleSlot, error) {
	return s.slots.ListActiveByUser(ctx, userID)
}

// Status возвращает последний слот поста, включая терминальные:
// по attempts и lastError видно, будет ли повтор или нужен явный перенос.
func (s *Service) Status(ctx context.Context, postID string) (domain.ScheduleSlot, error) {
	return s.slots.LatestByPost(ctx, postID)
}

func newSlot(postID, userID string, at time.Time) domain.ScheduleSlot {
	now := time.Now().UTC()
	return domain.ScheduleSlot{
		SlotID:      uuid.NewString(),
		PostID:      postID,
		UserID:      userID,
		ScheduledAt: at.UTC(),
		State:       domain.SlotPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
