package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// Weights задаёт вклад каждой эвристики в итоговую оценку варианта.
type Weights struct {
	Engagement float64
	NicheFit   float64
	Diversity  float64
}

// DefaultWeights — базовая комбинация эвристик.
var DefaultWeights = Weights{Engagement: 0.5, NicheFit: 0.3, Diversity: 0.2}

// BatchContext содержит сигналы пользователя для скоринга пакета.
type BatchContext struct {
	Niche        string
	RecentTopics []string
}

// Service ранжирует варианты поста и фиксирует выбор.
type Service struct {
	variants domain.VariantRepo
	scorer   domain.Scorer
	topK     int
	weights  Weights
}

// NewService создаёт ранкер. topK — сколько вариантов помечается выбранными.
func NewService(variants domain.VariantRepo, scorer domain.Scorer, topK int) *Service {
	if topK <= 0 {
		topK = 1
	}
	return &Service{variants: variants, scorer: scorer, topK: topK, weights: DefaultWeights}
}

// SetWeights заменяет веса эвристик (используется циклом обратной связи).
func (s *Service) SetWeights(w Weights) {
	s.weights = w
}

// Rank оценивает пакет вариантов одного поста и возвращает его в порядке
// убывания оценки. Топ-K помечается выбранными, остальные — отклонёнными.
func (s *Service) Rank(ctx context.Context, batch []domain.ContentVariant, bctx BatchContext) ([]domain.ContentVariant, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if err := validateBatch(batch); err != nil {
		return nil, err
	}
	metrics.RankBatchesTotal.Inc()

	nicheTokens := tokenize(bctx.Niche)
	ranked := make([]domain.ContentVariant, len(batch))
	copy(ranked, batch)

	for i := range ranked {
		engagement, err := s.scorer.Score(ctx, ranked[i])
		if err != nil {
			return nil, fmt.Errorf("оценка вовлечённости: %w", err)
		}
		niche := overlap(variantTokens(ranked[i]), nicheTokens)
		penalty := diversityPenalty(ranked[i].Topic, bctx.RecentTopics)
		ranked[i].PredictedScore = clamp(s.weights.Engagement*engagement + s.weights.NicheFit*niche - s.weights.Diversity*penalty)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PredictedScore != ranked[j].PredictedScore {
			return ranked[i].PredictedScore > ranked[j].PredictedScore
		}
		return ranked[i].VariantID < ranked[j].VariantID
	})

	for i := range ranked {
		if i < s.topK {
			ranked[i].Status = domain.VariantSelected
		} else {
			ranked[i].Status = domain.VariantDiscarded
		}
	}

	if err := s.variants.ApplyRanking(ctx, ranked); err != nil {
		return nil, fmt.Errorf("сохранение результатов ранжирования: %w", err)
	}
	return ranked, nil
}

func validateBatch(batch []domain.ContentVariant) error {
	postID := batch[0].PostID
	userID := batch[0].UserID
	for _, v := range batch[1:] {
		if v.PostID != postID || v.UserID != userID {
			return domain.ErrInvalidBatch
		}
	}
	return nil
}

func variantTokens(v domain.ContentVariant) map[string]struct{} {
	tokens := tokenize(v.Topic)
	for _, tag := range v.Hashtags {
		for token := range tokenize(tag) {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

// diversityPenalty штрафует темы, почти совпадающие с недавно выбранными.
func diversityPenalty(topic string, recent []string) float64 {
	topicTokens := tokenize(topic)
	var worst float64
	for _, prev := range recent {
		if sim := overlap(topicTokens, tokenize(prev)); sim > worst {
			worst = sim
		}
	}
	return worst
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// overlap — коэффициент Жаккара двух множеств токенов.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for token := range a {
		if _, ok := b[token]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return float64(common) / float64(union)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
