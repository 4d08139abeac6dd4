package ranking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"content-autopilot/internal/domain"
)

type fakeVariantRepo struct {
	applied []domain.ContentVariant
}

func (s *fakeVariantRepo) SaveBatch(context.Context, []domain.ContentVariant) error { return nil }
func (s *fakeVariantRepo) ListByPost(context.Context, string) ([]domain.ContentVariant, error) {
	return nil, nil
}
func (s *fakeVariantRepo) ApplyRanking(_ context.Context, variants []domain.ContentVariant) error {
	s.applied = variants
	return nil
}
func (s *fakeVariantRepo) GetSelected(context.Context, string) (domain.ContentVariant, error) {
	return domain.ContentVariant{}, domain.ErrVariantNotFound
}
func (s *fakeVariantRepo) ListSelectedTopics(context.Context, string, time.Time) ([]string, error) {
	return nil, nil
}

type stubScorer struct {
	scores map[string]float64
}

func (s *stubScorer) Score(_ context.Context, v domain.ContentVariant) (float64, error) {
	if s.scores == nil {
		return 0.5, nil
	}
	return s.scores[v.VariantID], nil
}

func makeBatch(postID string, n int) []domain.ContentVariant {
	batch := make([]domain.ContentVariant, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, domain.ContentVariant{
			VariantID: string(rune('a' + i)),
			PostID:    postID,
			UserID:    "u1",
			Topic:     "рост в SaaS",
			Status:    domain.VariantCandidate,
		})
	}
	return batch
}

func TestRankRejectsMixedBatch(t *testing.T) {
	service := NewService(&fakeVariantRepo{}, &stubScorer{}, 1)
	batch := makeBatch("p1", 2)
	batch[1].PostID = "p2"
	if _, err := service.Rank(context.Background(), batch, BatchContext{}); !errors.Is(err, domain.ErrInvalidBatch) {
		t.Fatalf("ожидали ErrInvalidBatch, получили %v", err)
	}
}

func TestRankSelectsTopK(t *testing.T) {
	repo := &fakeVariantRepo{}
	scorer := &stubScorer{scores: map[string]float64{"a": 0.9, "b": 0.4, "c": 0.6, "d": 0.1, "e": 0.3}}
	service := NewService(repo, scorer, 1)

	ranked, err := service.Rank(context.Background(), makeBatch("p1", 5), BatchContext{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ranked) != 5 {
		t.Fatalf("ожидали 5 вариантов, получили %d", len(ranked))
	}
	selected := 0
	for _, v := range ranked {
		if v.Status == domain.VariantSelected {
			selected++
		}
	}
	if selected != 1 {
		t.Fatalf("ожидали ровно 1 выбранный вариант, получили %d", selected)
	}
	if ranked[0].VariantID != "a" || ranked[0].Status != domain.VariantSelected {
		t.Fatalf("ожидали выбранным вариант a, получили %s", ranked[0].VariantID)
	}
	for _, v := range ranked[1:] {
		if v.Status != domain.VariantDiscarded {
			t.Fatalf("вариант %s должен быть отклонён", v.VariantID)
		}
	}
	if len(repo.applied) != 5 {
		t.Fatalf("результаты ранжирования не сохранены")
	}
}

func TestRankDeterministic(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{"a": 0.7, "b": 0.2, "c": 0.7, "d": 0.5, "e": 0.9}}
	bctx := BatchContext{Niche: "SaaS и рост", RecentTopics: []string{"метрики удержания"}}

	var first []string
	for run := 0; run < 3; run++ {
		service := NewService(&fakeVariantRepo{}, scorer, 2)
		ranked, err := service.Rank(context.Background(), makeBatch("p1", 5), bctx)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		order := make([]string, 0, len(ranked))
		for _, v := range ranked {
			order = append(order, v.VariantID)
		}
		if first == nil {
			first = order
			continue
		}
		if strings.Join(order, ",") != strings.Join(first, ",") {
			t.Fatalf("порядок нестабилен: %v против %v", order, first)
		}
	}
}

func TestRankTieBreakByVariantID(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{"a": 0.5, "b": 0.5, "c": 0.5}}
	service := NewService(&fakeVariantRepo{}, scorer, 1)

	ranked, err := service.Rank(context.Background(), makeBatch("p1", 3), BatchContext{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if ranked[i].VariantID != want {
			t.Fatalf("при равных оценках ожидали порядок по variantID, позиция %d: %s", i, ranked[i].VariantID)
		}
	}
}

func TestRankPenalizesRepeatedTopics(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{"a": 0.5, "b": 0.5}}
	service := NewService(&fakeVariantRepo{}, scorer, 1)

	batch := makeBatch("p1", 2)
	batch[0].Topic = "метрики удержания в SaaS"
	batch[1].Topic = "наём первых инженеров"

	ranked, err := service.Rank(context.Background(), batch, BatchContext{
		RecentTopics: []string{"метрики удержания в SaaS"},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ranked[0].VariantID != "b" {
		t.Fatalf("повторная тема должна проиграть свежей, победил %s", ranked[0].VariantID)
	}
	if ranked[1].PredictedScore >= ranked[0].PredictedScore {
		t.Fatalf("штраф за повтор темы не применён: %f >= %f", ranked[1].PredictedScore, ranked[0].PredictedScore)
	}
}

func TestRankEmptyBatch(t *testing.T) {
	service := NewService(&fakeVariantRepo{}, &stubScorer{}, 1)
	ranked, err := service.Rank(context.Background(), nil, BatchContext{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ranked != nil {
		t.Fatalf("пустой пакет должен вернуть nil")
	}
}
