package scorer

import (
	"context"
	"strings"

	"content-autopilot/internal/domain"
)

const idealHashtags = 5

// SimpleScorer оценивает вариант по эвристикам текста.
// Детерминирован: одинаковый вариант всегда получает одинаковую оценку.
type SimpleScorer struct {
	TargetWords int
}

// NewSimple создаёт оценщик.
func NewSimple(targetWords int) *SimpleScorer {
	if targetWords <= 0 {
		targetWords = 200
	}
	return &SimpleScorer{TargetWords: targetWords}
}

// Score реализует domain.Scorer.
func (s *SimpleScorer) Score(ctx context.Context, variant domain.ContentVariant) (float64, error) {
	hookScore := 0.0
	if hook := strings.TrimSpace(variant.Hook); hook != "" {
		hookScore = 0.7
		if strings.ContainsAny(hook, "?!") {
			hookScore = 1.0
		}
	}

	words := len(strings.Fields(variant.Body))
	lengthScore := float64(words) / float64(s.TargetWords)
	if lengthScore > 1 {
		lengthScore = 1
	}

	ctaScore := 0.0
	if strings.TrimSpace(variant.CTA) != "" {
		ctaScore = 1
	}

	tagScore := float64(len(variant.Hashtags)) / idealHashtags
	if tagScore > 1 {
		// Перебор хэштегов снижает охват.
		tagScore = 2 - tagScore
		if tagScore < 0 {
			tagScore = 0
		}
	}

	return 0.3*hookScore + 0.4*lengthScore + 0.2*ctaScore + 0.1*tagScore, nil
}
