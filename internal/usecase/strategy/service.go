package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/usecase/analytics"
	"content-autopilot/internal/usecase/timeslot"
)

var postFormats = []string{"thought_leadership", "story", "insight", "hook", "carousel"}

// PlanItem — один день контент-плана.
type PlanItem struct {
	Topic       string    `json:"topic"`
	Format      string    `json:"format"`
	SuggestedAt time.Time `json:"suggested_at,omitempty"`
}

// Recommendation — контент-план на неделю с выводами по прошлому периоду.
type Recommendation struct {
	UserID   string     `json:"user_id"`
	Plan     []PlanItem `json:"plan"`
	Insights []string   `json:"insights"`
}

// Service собирает рекомендации из сводки, трендов и предсказателя.
type Service struct {
	users     domain.UserRepo
	trends    domain.TrendSource
	analytics *analytics.Service
	predictor *timeslot.Service
}

// NewService создаёт сервис стратегии.
func NewService(users domain.UserRepo, trends domain.TrendSource, analyticsSvc *analytics.Service, predictor *timeslot.Service) *Service {
	return &Service{users: users, trends: trends, analytics: analyticsSvc, predictor: predictor}
}

// Recommendations строит 7-дневный план: темы из трендов ниши,
// ротация форматов, время из предсказателя.
func (s *Service) Recommendations(ctx context.Context, userID string) (Recommendation, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return Recommendation{}, fmt.Errorf("профиль пользователя: %w", err)
	}
	summary, err := s.analytics.Summary(ctx, userID, 30)
	if err != nil {
		return Recommendation{}, fmt.Errorf("сводка вовлечённости: %w", err)
	}
	topics, err := s.trends.TrendingTopics(ctx, user.Niche, 7)
	if err != nil {
		return Recommendation{}, fmt.Errorf("темы ниши: %w", err)
	}
	if len(topics) == 0 {
		topics = []string{user.Niche}
	}

	suggestions, err := s.predictor.SuggestSlots(ctx, userID, 7, time.Now().UTC(), false)
	if err != nil && !errors.Is(err, domain.ErrNoViableSlot) {
		return Recommendation{}, fmt.Errorf("рекомендация времени: %w", err)
	}

	plan := make([]PlanItem, 0, 7)
	for i := 0; i < 7; i++ {
		item := PlanItem{
			Topic:  topics[i%len(topics)],
			Format: postFormats[i%len(postFormats)],
		}
		if i < len(suggestions) {
			item.SuggestedAt = suggestions[i].At
		}
		plan = append(plan, item)
	}

	insights := []string{
		fmt.Sprintf("лучший день публикации: %s, лучший час: %02d:00", summary.BestPostingDay, summary.BestPostingHour),
		fmt.Sprintf("средняя вовлечённость за 30 дней: %.4f", summary.AvgEngagementRate),
	}
	if len(summary.TopPosts) > 0 {
		insights = append(insights, fmt.Sprintf("самый успешный пост: %s", summary.TopPosts[0].PostID))
	}

	return Recommendation{UserID: userID, Plan: plan, Insights: insights}, nil
}

// UpdatePreferences сохраняет обратную связь пользователя по стратегии.
func (s *Service) UpdatePreferences(ctx context.Context, userID, toneStyle, contentGoals string) error {
	if toneStyle == "" && contentGoals == "" {
		return nil
	}
	return s.users.UpdatePreferences(ctx, userID, toneStyle, contentGoals)
}
