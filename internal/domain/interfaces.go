package domain

import (
	"context"
	"time"
)

// UserRepo управляет профилями авторов.
type UserRepo interface {
	Get(ctx context.Context, userID string) (User, error)
	// ListIDs возвращает идентификаторы всех пользователей для плановых обходов.
	ListIDs(ctx context.Context) ([]string, error)
	UpdatePreferences(ctx context.Context, userID, toneStyle, contentGoals string) error
}

// VariantRepo управляет вариантами постов.
type VariantRepo interface {
	SaveBatch(ctx context.Context, variants []ContentVariant) error
	ListByPost(ctx context.Context, postID string) ([]ContentVariant, error)
	// ApplyRanking сохраняет статусы и оценки, проставленные ранкером.
	ApplyRanking(ctx context.Context, variants []ContentVariant) error
	GetSelected(ctx context.Context, postID string) (ContentVariant, error)
	// ListSelectedTopics возвращает темы выбранных вариантов пользователя начиная с since.
	ListSelectedTopics(ctx context.Context, userID string, since time.Time) ([]string, error)
}

// SlotRepo управляет слотами публикации и их переходами.
// Методы перехода выполняют условные обновления: false означает,
// что слот уже не в ожидаемом состоянии и переход не применён.
type SlotRepo interface {
	Create(ctx context.Context, slot ScheduleSlot) error
	Get(ctx context.Context, slotID string) (ScheduleSlot, error)
	GetActiveByPost(ctx context.Context, postID string) (ScheduleSlot, error)
	// LatestByPost возвращает последний по времени создания слот поста,
	// включая терминальные.
	LatestByPost(ctx context.Context, postID string) (ScheduleSlot, error)
	ListActiveByUser(ctx context.Context, userID string) ([]ScheduleSlot, error)
	// MarkDueBatch переводит pending-слоты с наступившим временем в due.
	MarkDueBatch(ctx context.Context, now time.Time) (int, error)
	// ListClaimable возвращает due-слоты и зависшие dispatching-слоты,
	// захваченные раньше reclaimBefore.
	ListClaimable(ctx context.Context, now, reclaimBefore time.Time) ([]ScheduleSlot, error)
	// Claim атомарно захватывает слот (due -> dispatching) и увеличивает счётчик попыток.
	// Ровно один из конкурирующих диспетчеров получает ok=true.
	Claim(ctx context.Context, slotID string, now, reclaimBefore time.Time) (ScheduleSlot, bool, error)
	FinishPublished(ctx context.Context, slotID, externalPostID string, at time.Time) (bool, error)
	Retry(ctx context.Context, slotID string, nextAt time.Time, lastError string) (bool, error)
	FinishFailed(ctx context.Context, slotID, lastError string) (bool, error)
	Cancel(ctx context.Context, slotID string) error
	// RescheduleActive атомарно отменяет активный слот поста и создаёт новый.
	RescheduleActive(ctx context.Context, postID string, slot ScheduleSlot) (ScheduleSlot, error)
	ListPublishedSince(ctx context.Context, since time.Time) ([]ScheduleSlot, error)
}

// SampleRepo хранит временной ряд метрик вовлечённости (только добавление).
type SampleRepo interface {
	Append(ctx context.Context, samples []EngagementSample) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]EngagementSample, error)
}

// ModelRepo хранит обученные модели предсказателя.
type ModelRepo interface {
	// Save замещает модель пользователя целиком и возвращает её с новой версией.
	Save(ctx context.Context, model PredictorModel) (PredictorModel, error)
	Get(ctx context.Context, userID string) (PredictorModel, error)
}

// GrowthRepo хранит срезы роста аудитории.
type GrowthRepo interface {
	AddSnapshot(ctx context.Context, snapshot GrowthSnapshot) error
	ListSnapshots(ctx context.Context, userID string, limit int) ([]GrowthSnapshot, error)
}

// Generator порождает варианты поста по теме. Реализация внешняя.
type Generator interface {
	Generate(ctx context.Context, user User, topic string, variantCount int) ([]ContentVariant, error)
}

// Publisher публикует выбранный вариант на внешней платформе.
type Publisher interface {
	// Publish возвращает внешний идентификатор публикации.
	Publish(ctx context.Context, user User, variant ContentVariant) (string, error)
}

// TrendSource отдаёт актуальные темы для ниши.
type TrendSource interface {
	TrendingTopics(ctx context.Context, niche string, limit int) ([]string, error)
}

// EngagementSource выгружает свежие метрики опубликованного поста.
type EngagementSource interface {
	FetchSample(ctx context.Context, user User, slot ScheduleSlot) (EngagementSample, error)
}

// Scorer оценивает ожидаемую вовлечённость варианта (0..1).
// Подключаемая стратегия: формула скоринга может меняться независимо от ранкера.
type Scorer interface {
	Score(ctx context.Context, variant ContentVariant) (float64, error)
}

// Cache используется для простых TTL-хранилищ и идемпотентных запусков.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
