package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/usecase/analytics"
	"content-autopilot/internal/usecase/timeslot"
)

type stubTrends struct {
	topics []string
	err    error
}

func (s *stubTrends) TrendingTopics(context.Context, string, int) ([]string, error) {
	return s.topics, s.err
}

func newStrategyFixture(t *testing.T, trends domain.TrendSource) (*Service, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	store.SeedUser(domain.User{ID: "u1", Niche: "saas", FollowerCount: 100})
	analyticsSvc := analytics.NewService(store.Samples(), store.Growth(), store.Users())
	predictor := timeslot.NewService(timeslot.NewStore(), store.Models(), store.Slots(), zerolog.Nop(), timeslot.Options{})
	return NewService(store.Users(), trends, analyticsSvc, predictor), store
}

func TestRecommendationsSevenDayPlan(t *testing.T) {
	service, _ := newStrategyFixture(t, &stubTrends{topics: []string{"метрики", "наём", "продукт"}})

	rec, err := service.Recommendations(context.Background(), "u1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rec.Plan) != 7 {
		t.Fatalf("план должен покрывать неделю, получили %d", len(rec.Plan))
	}
	// Темы ротируются по кругу.
	if rec.Plan[0].Topic != "метрики" || rec.Plan[3].Topic != "метрики" {
		t.Fatalf("ротация тем нарушена: %s, %s", rec.Plan[0].Topic, rec.Plan[3].Topic)
	}
	for i, item := range rec.Plan {
		if item.Format == "" {
			t.Fatalf("день %d без формата", i)
		}
	}
	if len(rec.Insights) == 0 {
		t.Fatalf("рекомендация должна содержать выводы")
	}
}

func TestRecommendationsFallsBackToNicheTopic(t *testing.T) {
	service, _ := newStrategyFixture(t, &stubTrends{})

	rec, err := service.Recommendations(context.Background(), "u1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, item := range rec.Plan {
		if item.Topic != "saas" {
			t.Fatalf("без трендов тема берётся из ниши: %s", item.Topic)
		}
	}
}

func TestRecommendationsUnknownUser(t *testing.T) {
	service, _ := newStrategyFixture(t, &stubTrends{topics: []string{"метрики"}})
	if _, err := service.Recommendations(context.Background(), "missing"); err == nil {
		t.Fatalf("неизвестный пользователь должен давать ошибку")
	}
}

func TestRecommendationsTrendFailure(t *testing.T) {
	service, _ := newStrategyFixture(t, &stubTrends{err: errors.New("источник недоступен")})
	if _, err := service.Recommendations(context.Background(), "u1"); err == nil {
		t.Fatalf("сбой источника трендов должен давать ошибку")
	}
}

func TestUpdatePreferences(t *testing.T) {
	service, store := newStrategyFixture(t, &stubTrends{})
	ctx := context.Background()

	if err := service.UpdatePreferences(ctx, "u1", "дружелюбный", "рост аудитории"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	user, err := store.Users().Get(ctx, "u1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if user.ToneStyle != "дружелюбный" || user.ContentGoals != "рост аудитории" {
		t.Fatalf("предпочтения не сохранены: %+v", user)
	}
	// Пустое обновление не трогает профиль.
	if err := service.UpdatePreferences(ctx, "u1", "", ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	updated, _ := store.Users().Get(ctx, "u1")
	if updated.ToneStyle != "дружелюбный" {
		t.Fatalf("пустое обновление не должно затирать предпочтения")
	}
}
