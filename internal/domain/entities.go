package domain

import "time"

// User описывает автора, для которого работает контент-конвейер.
type User struct {
	ID               string
	Email            string
	Name             string
	Niche            string
	ContentGoals     string
	PostingFrequency int
	ToneStyle        string
	TargetAudience   string
	Timezone         string
	FollowerCount    int
	AccessToken      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// VariantStatus описывает статус варианта поста.
type VariantStatus string

const (
	// VariantCandidate — вариант ещё не оценён ранкером.
	VariantCandidate VariantStatus = "candidate"
	// VariantSelected — вариант выбран к публикации.
	VariantSelected VariantStatus = "selected"
	// VariantDiscarded — вариант отклонён ранкером.
	VariantDiscarded VariantStatus = "discarded"
)

// ContentVariant представляет один сгенерированный вариант поста.
// Текстовые поля для ядра непрозрачны: оно их только оценивает и хранит.
type ContentVariant struct {
	VariantID      string
	PostID         string
	UserID         string
	Topic          string
	Format         string
	Hook           string
	Body           string
	CTA            string
	Hashtags       []string
	PredictedScore float64
	Status         VariantStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SlotState описывает состояние слота публикации.
type SlotState string

const (
	// SlotPending — слот запланирован, время ещё не наступило.
	SlotPending SlotState = "pending"
	// SlotDue — время наступило, слот ждёт диспетчера.
	SlotDue SlotState = "due"
	// SlotDispatching — диспетчер захватил слот и публикует.
	SlotDispatching SlotState = "dispatching"
	// SlotPublished — публикация прошла успешно.
	SlotPublished SlotState = "published"
	// SlotFailed — попытки исчерпаны.
	SlotFailed SlotState = "failed"
	// SlotCancelled — слот отменён пользователем.
	SlotCancelled SlotState = "cancelled"
)

// IsTerminal сообщает, что из состояния больше нет переходов.
func (s SlotState) IsTerminal() bool {
	return s == SlotPublished || s == SlotFailed || s == SlotCancelled
}

// ScheduleSlot — запланированная публикация одного поста.
type ScheduleSlot struct {
	SlotID         string
	UserID         string
	PostID         string
	ScheduledAt    time.Time
	State          SlotState
	Attempts       int
	LastError      string
	ExternalPostID string
	ClaimedAt      *time.Time
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EngagementSample — неизменяемая точка временного ряда метрик поста.
type EngagementSample struct {
	ID            int64
	PostID        string
	UserID        string
	PublishedAt   time.Time
	SampledAt     time.Time
	Impressions   int
	Likes         int
	Comments      int
	Shares        int
	FollowerDelta int
}

// Interactions возвращает сумму реакций без показов.
func (s EngagementSample) Interactions() int {
	return s.Likes + s.Comments + s.Shares
}

// EngagementRate нормирует вовлечённость на размер аудитории.
func (s EngagementSample) EngagementRate(followers int) float64 {
	if followers < 1 {
		followers = 1
	}
	return float64(s.Impressions+s.Interactions()) / float64(followers)
}

// ViralityScore взвешивает реакции по их ценности относительно показов.
func (s EngagementSample) ViralityScore() float64 {
	impressions := s.Impressions
	if impressions < 1 {
		impressions = 1
	}
	return float64(s.Shares*3+s.Comments*2+s.Likes) / float64(impressions) * 100
}

// ModelBuckets — количество корзин (день недели × час).
const ModelBuckets = 7 * 24

// PredictorModel — обученная модель лучших часов публикации пользователя.
// Заменяется целиком: читатели никогда не видят частично обновлённые веса.
type PredictorModel struct {
	UserID        string
	HourlyWeights []float64
	LastTrainedAt time.Time
	SampleCount   int
	Version       int64
}

// BucketOf возвращает индекс корзины для момента времени.
func BucketOf(t time.Time) int {
	return int(t.Weekday())*24 + t.Hour()
}

// SlotSuggestion — кандидат времени публикации с уверенностью модели.
type SlotSuggestion struct {
	At         time.Time
	Confidence float64
	ColdStart  bool
}

// GrowthSnapshot — срез роста аудитории пользователя.
type GrowthSnapshot struct {
	ID              int64
	UserID          string
	FollowerCount   int
	ConnectionCount int
	ProfileViews    int
	SnappedAt       time.Time
}

// EngagementSummary — агрегированная сводка вовлечённости за период.
type EngagementSummary struct {
	TotalImpressions  int
	TotalLikes        int
	TotalComments     int
	TotalShares       int
	AvgEngagementRate float64
	BestPostingDay    time.Weekday
	BestPostingHour   int
	TopPosts          []PostPerformance
}

// PostPerformance — вклад одного поста в сводку.
type PostPerformance struct {
	PostID         string
	EngagementRate float64
	Virality       float64
}
