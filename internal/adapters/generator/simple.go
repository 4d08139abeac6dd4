package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"content-autopilot/internal/domain"
)

var hookTemplates = []string{
	"Непопулярное мнение про %s.",
	"Что я понял о %s за последний год?",
	"Большинство ошибается насчёт %s.",
	"Короткая история про %s.",
	"%s: три вывода из практики.",
}

var ctaTemplates = []string{
	"Поделитесь своим опытом в комментариях.",
	"Согласны? Напишите, как это устроено у вас.",
	"Сохраните, чтобы вернуться позже.",
}

// SimpleGenerator порождает шаблонные варианты без внешних вызовов.
// Используется как запасной вариант и в dev-окружении.
type SimpleGenerator struct{}

// NewSimple создаёт генератор.
func NewSimple() *SimpleGenerator {
	return &SimpleGenerator{}
}

// Generate реализует domain.Generator.
func (g *SimpleGenerator) Generate(ctx context.Context, user domain.User, topic string, variantCount int) ([]domain.ContentVariant, error) {
	if topic == "" {
		topic = user.Niche
	}
	if variantCount <= 0 {
		variantCount = 3
	}
	postID := uuid.NewString()
	now := time.Now().UTC()

	variants := make([]domain.ContentVariant, 0, variantCount)
	for i := 0; i < variantCount; i++ {
		variants = append(variants, domain.ContentVariant{
			VariantID: uuid.NewString(),
			PostID:    postID,
			UserID:    user.ID,
			Topic:     topic,
			Format:    "insight",
			Hook:      fmt.Sprintf(hookTemplates[i%len(hookTemplates)], topic),
			Body:      fmt.Sprintf("Разбор темы «%s» для аудитории «%s». Вариант %d.", topic, user.TargetAudience, i+1),
			CTA:       ctaTemplates[i%len(ctaTemplates)],
			Hashtags:  hashtagsFor(topic),
			Status:    domain.VariantCandidate,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return variants, nil
}

func hashtagsFor(topic string) []string {
	words := strings.Fields(strings.ToLower(topic))
	tags := make([]string, 0, 3)
	for _, w := range words {
		if len(tags) == 3 {
			break
		}
		tags = append(tags, strings.Trim(w, ".,!?"))
	}
	return tags
}
